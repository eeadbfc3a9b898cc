package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

// Job statuses. completed and cancelled are final; failed leaves only
// through an explicit Retry.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRetrying  JobStatus = "retrying"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusRetrying:
		return true
	}
	return false
}

type JobType string

const JobTypeFullDubbing JobType = "full_dubbing"

const DefaultMaxRetries = 3

type Job struct {
	ID             string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID      string        `gorm:"type:varchar(64);index" json:"projectId"`
	OwnerID        string        `gorm:"type:varchar(64);index" json:"ownerId"`
	Type           JobType       `gorm:"type:varchar(32)" json:"type"`
	Status         JobStatus     `gorm:"type:varchar(16);index" json:"status"`
	Progress       float64       `json:"progress"`
	RetryCount     int           `json:"retryCount"`
	MaxRetries     int           `json:"maxRetries"`
	Parameters     JobParameters `gorm:"type:json" json:"parameters"`
	Outputs        JobOutputs    `gorm:"type:json" json:"outputs"`
	QualityMetrics QualityReport `gorm:"type:json" json:"qualityMetrics"`
	ErrorMessage   string        `gorm:"type:text" json:"errorMessage,omitempty"`
	ActualDuration int64         `json:"actualDuration"` // seconds
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

func (Job) TableName() string {
	return "job"
}

// JobParameters are the inputs of one full pipeline run.
type JobParameters struct {
	VideoRef        string            `json:"video_ref"`
	SourceLanguage  string            `json:"source_language,omitempty"`
	TargetLanguages []string          `json:"target_languages"`
	Recognition     RecognitionParams `json:"recognition"`
	Synthesis       SynthesisParams   `json:"synthesis"`
	Reanimation     ReanimationParams `json:"reanimation"`
}

type RecognitionParams struct {
	Language string `json:"language,omitempty"`
}

type SynthesisParams struct {
	VoiceCloning bool   `json:"voice_cloning"`
	Emotion      string `json:"emotion"`
}

type ReanimationParams struct {
	Mode               string `json:"mode"`
	PreservePose       bool   `json:"preserve_pose"`
	PreserveExpression bool   `json:"preserve_expression"`
}

// OutputArtifact is the final per-language result of a job.
type OutputArtifact struct {
	VideoRef     string `json:"video_ref"`
	AudioRef     string `json:"audio_ref,omitempty"`
	OriginalRef  string `json:"original_ref,omitempty"`
	WatermarkID  string `json:"watermark_id,omitempty"`
	ProvenanceID string `json:"provenance_id,omitempty"`
}

// JobOutputs maps target language to its artifact.
type JobOutputs map[string]OutputArtifact

// QualityMetrics is the advisory quality assessment of one language.
type QualityMetrics struct {
	LSEC                  float64  `json:"lse_c"`
	FID                   float64  `json:"fid"`
	AUCorrelation         *float64 `json:"au_correlation,omitempty"`
	TranslationConfidence float64  `json:"translation_confidence"`
	SpeakerSimilarity     *float64 `json:"speaker_similarity,omitempty"`
	OverallScore          float64  `json:"overall_score"`
	Passed                bool     `json:"passed"`
	Issues                []string `json:"issues,omitempty"`
}

// QualityReport maps target language to its metrics.
type QualityReport map[string]QualityMetrics

// JSON column mapping (driver.Valuer / sql.Scanner).
func (p JobParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *JobParameters) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func (o JobOutputs) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *JobOutputs) Scan(value interface{}) error {
	return scanJSON(value, o)
}

func (q QualityReport) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *QualityReport) Scan(value interface{}) error {
	return scanJSON(value, q)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("failed to unmarshal JSON value: %v", value)
	}
}

// NewJob builds a pending full-pipeline job.
func NewJob(id, projectID, ownerID string, params JobParameters, now time.Time) *Job {
	return &Job{
		ID:         id,
		ProjectID:  projectID,
		OwnerID:    ownerID,
		Type:       JobTypeFullDubbing,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
		Parameters: params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the job has stopped making progress.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (j *Job) IsActive() bool {
	switch j.Status {
	case JobStatusPending, JobStatusRunning, JobStatusRetrying:
		return true
	}
	return false
}

func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

func (j *Job) Start(now time.Time) error {
	if j.Status != JobStatusPending && j.Status != JobStatusRetrying {
		return &InvalidTransitionError{Op: "start", From: string(j.Status)}
	}
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.UpdatedAt = now
	return nil
}

// UpdateProgress clamps p to [0,1]. It never lowers progress and does
// nothing once the job is terminal.
func (j *Job) UpdateProgress(p float64, now time.Time) {
	if j.IsTerminal() {
		return
	}
	p = clamp01(p)
	if p > j.Progress {
		j.Progress = p
	}
	j.UpdatedAt = now
}

func (j *Job) Complete(outputs JobOutputs, metrics QualityReport, now time.Time) error {
	if j.Status != JobStatusRunning {
		return &InvalidTransitionError{Op: "complete", From: string(j.Status)}
	}
	j.Status = JobStatusCompleted
	j.Progress = 1.0
	j.Outputs = outputs
	j.QualityMetrics = metrics
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ActualDuration = j.elapsed(now)
	return nil
}

func (j *Job) Fail(message string, now time.Time) error {
	if j.IsTerminal() {
		return &InvalidTransitionError{Op: "fail", From: string(j.Status)}
	}
	j.Status = JobStatusFailed
	j.ErrorMessage = message
	j.UpdatedAt = now
	j.ActualDuration = j.elapsed(now)
	return nil
}

// Retry moves a failed job to retrying. Progress and previous outputs are
// reset so the next run reports from the first stage.
func (j *Job) Retry(now time.Time) error {
	if !j.CanRetry() {
		return &InvalidTransitionError{Op: "retry", From: string(j.Status)}
	}
	j.Status = JobStatusRetrying
	j.RetryCount++
	j.ErrorMessage = ""
	j.Progress = 0
	j.Outputs = nil
	j.QualityMetrics = nil
	j.UpdatedAt = now
	return nil
}

func (j *Job) Cancel(now time.Time) error {
	if !j.IsActive() {
		return &InvalidTransitionError{Op: "cancel", From: string(j.Status)}
	}
	j.Status = JobStatusCancelled
	j.UpdatedAt = now
	return nil
}

func (j *Job) elapsed(now time.Time) int64 {
	if j.StartedAt == nil {
		return 0
	}
	return int64(now.Sub(*j.StartedAt).Seconds())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
