package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConsentRecord is one subject's consent for a project.
type ConsentRecord struct {
	ID                 string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID          string                      `gorm:"type:varchar(64);index" json:"projectId"`
	OwnerID            string                      `gorm:"type:varchar(64)" json:"ownerId"`
	ConsentType        string                      `gorm:"type:varchar(50)" json:"consentType"` // voice | likeness | content
	SubjectName        string                      `json:"subjectName"`
	SubjectIdentifier  string                      `json:"subjectIdentifier"`
	Granted            bool                        `json:"granted"`
	DocumentRef        string                      `json:"documentRef,omitempty"`
	PermittedUses      datatypes.JSONSlice[string] `json:"permittedUses"`
	Restrictions       datatypes.JSONSlice[string] `json:"restrictions"`
	ExpiresAt          *time.Time                  `json:"expiresAt,omitempty"`
	Jurisdiction       string                      `json:"jurisdiction,omitempty"`
	LegalBasis         string                      `json:"legalBasis,omitempty"`
	Verified           bool                        `json:"verified"`
	VerifiedBy         string                      `json:"verifiedBy,omitempty"`
	VerificationMethod string                      `json:"verificationMethod,omitempty"`
	GrantedAt          *time.Time                  `json:"grantedAt,omitempty"`
	RevokedAt          *time.Time                  `json:"revokedAt,omitempty"`
	CreatedAt          time.Time                   `json:"createdAt"`
	UpdatedAt          time.Time                   `json:"updatedAt"`
}

func (ConsentRecord) TableName() string {
	return "consent_record"
}

// IsActive is granted, never revoked and not past its expiry.
func (c *ConsentRecord) IsActive(now time.Time) bool {
	if !c.Granted || c.RevokedAt != nil {
		return false
	}
	return !c.IsExpired(now)
}

func (c *ConsentRecord) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Grant re-stamps GrantedAt on every call. A revoked record stays inactive.
func (c *ConsentRecord) Grant(documentRef string, now time.Time) {
	c.Granted = true
	c.GrantedAt = &now
	if documentRef != "" {
		c.DocumentRef = documentRef
	}
	c.UpdatedAt = now
}

func (c *ConsentRecord) Revoke(now time.Time) {
	c.Granted = false
	c.RevokedAt = &now
	c.UpdatedAt = now
}

func (c *ConsentRecord) Verify(by, method string, now time.Time) {
	c.Verified = true
	c.VerifiedBy = by
	c.VerificationMethod = method
	c.UpdatedAt = now
}

// WatermarkRecord is one embedding of a watermark into one artifact.
type WatermarkRecord struct {
	ID                  string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID           string            `gorm:"type:varchar(64);index" json:"projectId"`
	WatermarkType       string            `gorm:"type:varchar(50)" json:"watermarkType"`
	Method              string            `gorm:"type:varchar(100)" json:"method"`
	Strength            float64           `json:"strength"`
	ContentType         string            `gorm:"type:varchar(16)" json:"contentType"`
	SourceRef           string            `json:"sourceRef"`
	ContentRef          string            `json:"contentRef"`
	ContentHash         string            `gorm:"type:varchar(64)" json:"contentHash"`
	Payload             datatypes.JSONMap `json:"payload"`
	PayloadHash         string            `gorm:"type:varchar(64)" json:"payloadHash"`
	DetectionKey        string            `json:"detectionKey"`
	Detectable          bool              `json:"detectable"`
	DetectionConfidence float64           `json:"detectionConfidence"`
	SNR                 float64           `json:"snr"`
	SSIM                float64           `json:"ssim"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

func (WatermarkRecord) TableName() string {
	return "watermark_record"
}

func (w *WatermarkRecord) IsHighQuality() bool {
	return w.SNR >= 40 && w.SSIM >= 0.95
}

func (w *WatermarkRecord) IsRobust() bool {
	return w.DetectionConfidence >= 0.9
}

// ProcessingStep is one entry of a provenance chain.
type ProcessingStep struct {
	Name       string                 `json:"step"`
	Model      string                 `json:"model"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ProvenanceRecord is an append-only processing history of one artifact
// lineage. SourceContentHash points back at the input by value only.
type ProvenanceRecord struct {
	ID                   string                              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID            string                              `gorm:"type:varchar(64);index:idx_provenance_lineage,priority:1" json:"projectId"`
	LineageID            string                              `gorm:"type:varchar(160);index:idx_provenance_lineage,priority:2" json:"lineageId"`
	ContentType          string                              `gorm:"type:varchar(16)" json:"contentType"`
	ContentRef           string                              `json:"contentRef"`
	ContentHash          string                              `gorm:"type:varchar(64)" json:"contentHash"`
	ProcessingSteps      datatypes.JSONSlice[ProcessingStep] `json:"processingSteps"`
	ModelsUsed           datatypes.JSONSlice[string]         `json:"modelsUsed"`
	SourceContentHash    string                              `gorm:"type:varchar(64)" json:"sourceContentHash,omitempty"`
	GenerationParameters datatypes.JSONMap                   `json:"generationParameters"`
	Manifest             datatypes.JSON                      `json:"manifest"`
	Signature            string                              `gorm:"type:text" json:"signature"`
	HumanReview          bool                                `json:"humanReview"`
	HumanReviewer        string                              `json:"humanReviewer,omitempty"`
	ReviewNotes          string                              `gorm:"type:text" json:"reviewNotes,omitempty"`
	GeneratedAt          time.Time                           `json:"generatedAt"`
	CreatedAt            time.Time                           `json:"createdAt"`
	UpdatedAt            time.Time                           `json:"updatedAt"`
}

func (ProvenanceRecord) TableName() string {
	return "provenance_record"
}

func (p *ProvenanceRecord) IsCompliant() bool {
	return len(p.Manifest) > 0 && string(p.Manifest) != "null" && p.Signature != ""
}

// AddStep appends to the chain; existing steps are never rewritten.
func (p *ProvenanceRecord) AddStep(step ProcessingStep, now time.Time) {
	if step.Timestamp.IsZero() {
		step.Timestamp = now
	}
	if step.Model == "" {
		step.Model = "unknown"
	}
	p.ProcessingSteps = append(p.ProcessingSteps, step)
	seen := false
	for _, m := range p.ModelsUsed {
		if m == step.Model {
			seen = true
			break
		}
	}
	if !seen {
		p.ModelsUsed = append(p.ModelsUsed, step.Model)
	}
	p.UpdatedAt = now
}

func (p *ProvenanceRecord) AddHumanReview(reviewer, notes string, now time.Time) {
	p.HumanReview = true
	p.HumanReviewer = reviewer
	if notes != "" {
		p.ReviewNotes = notes
	}
	p.UpdatedAt = now
}
