package models

import (
	"time"

	"gorm.io/datatypes"
)

type ProjectStatus string

// Project statuses follow the latest job of the project.
const (
	ProjectStatusDraft      ProjectStatus = "draft"      // created, no job has started
	ProjectStatusProcessing ProjectStatus = "processing" // a job is running
	ProjectStatusReview     ProjectStatus = "review"     // outputs await human review
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
	ProjectStatusCancelled  ProjectStatus = "cancelled"
)

type Project struct {
	ID              string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID         string                      `gorm:"type:varchar(64);index" json:"ownerId"`
	Name            string                      `json:"name"`
	Description     string                      `gorm:"type:text" json:"description"`
	Status          ProjectStatus               `gorm:"type:varchar(16)" json:"status"`
	Progress        float64                     `json:"progress"`
	SourceLanguage  string                      `gorm:"type:varchar(10)" json:"sourceLanguage"`
	TargetLanguages datatypes.JSONSlice[string] `json:"targetLanguages"`

	TargetLSEC          float64 `json:"targetLseC"`
	TargetFID           float64 `json:"targetFid"`
	TargetAUCorrelation float64 `json:"targetAuCorrelation"`
	TargetBLEU          float64 `json:"targetBleu"`

	RequireConsent     bool `json:"requireConsent"`
	EnableWatermarking bool `json:"enableWatermarking"`
	EnableProvenance   bool `json:"enableProvenance"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (Project) TableName() string {
	return "project"
}

func (p *Project) IsActive() bool {
	switch p.Status {
	case ProjectStatusDraft, ProjectStatusProcessing, ProjectStatusReview:
		return true
	}
	return false
}

func (p *Project) UpdateProgress(progress float64, now time.Time) {
	p.Progress = clamp01(progress)
	p.UpdatedAt = now
}

func (p *Project) MarkProcessing(now time.Time) {
	p.Status = ProjectStatusProcessing
	p.CompletedAt = nil
	p.UpdatedAt = now
}

func (p *Project) MarkCompleted(now time.Time) {
	p.Status = ProjectStatusCompleted
	p.Progress = 1.0
	p.CompletedAt = &now
	p.UpdatedAt = now
}

func (p *Project) MarkFailed(now time.Time) {
	p.Status = ProjectStatusFailed
	p.UpdatedAt = now
}

func (p *Project) MarkCancelled(now time.Time) {
	p.Status = ProjectStatusCancelled
	p.UpdatedAt = now
}
