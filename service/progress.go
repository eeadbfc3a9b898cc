package service

import (
	"context"

	"DubbingPlatform-server/models"
	"DubbingPlatform-server/pipeline"
)

type StageProgress struct {
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
}

// ProgressView is the polling representation of a job.
type ProgressView struct {
	JobID                 string               `json:"jobId"`
	Status                models.JobStatus     `json:"status"`
	OverallProgress       float64              `json:"overallProgress"`
	CurrentStage          string               `json:"currentStage"`
	Stages                []StageProgress      `json:"stages"`
	EstimatedRemainingSec *float64             `json:"estimatedTimeRemaining,omitempty"`
	ErrorMessage          string               `json:"errorMessage,omitempty"`
	QualityMetrics        models.QualityReport `json:"qualityMetrics,omitempty"`
}

var stageMarks = []struct {
	name string
	at   float64
}{
	{"Speech Recognition", pipeline.ProgressRecognition},
	{"Translation", pipeline.ProgressTranslation},
	{"Voice Synthesis", pipeline.ProgressSynthesis},
	{"Face Animation", pipeline.ProgressReanimation},
	{"Quality Check & Post-processing", 1.0},
}

func (s *JobService) Progress(ctx context.Context, ownerID, id string) (*ProgressView, error) {
	job, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return buildProgress(job, s.clock), nil
}

func buildProgress(job *models.Job, clock models.Clock) *ProgressView {
	v := &ProgressView{
		JobID:           job.ID,
		Status:          job.Status,
		OverallProgress: job.Progress,
		ErrorMessage:    job.ErrorMessage,
		QualityMetrics:  job.QualityMetrics,
	}

	ethics := 0.0
	if job.StartedAt != nil {
		ethics = 1
	}
	v.Stages = append(v.Stages, StageProgress{Name: "Ethics Check", Progress: ethics})
	for _, m := range stageMarks {
		p := 0.0
		if job.Progress >= m.at {
			p = 1
		}
		v.Stages = append(v.Stages, StageProgress{Name: m.name, Progress: p})
	}

	switch {
	case job.Status == models.JobStatusCompleted:
		v.CurrentStage = "Completed"
	case job.IsTerminal():
		v.CurrentStage = string(job.Status)
	default:
		for _, st := range v.Stages {
			if st.Progress < 1 {
				v.CurrentStage = st.Name
				break
			}
		}
	}

	if job.Status == models.JobStatusRunning && job.StartedAt != nil && job.Progress > 0 && job.Progress < 1 {
		elapsed := clock.Now().Sub(*job.StartedAt).Seconds()
		remaining := elapsed/job.Progress - elapsed
		if remaining < 0 {
			remaining = 0
		}
		v.EstimatedRemainingSec = &remaining
	}
	return v
}
