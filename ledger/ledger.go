// Package ledger keeps the compliance records of a project: consent,
// watermark embeddings and provenance chains.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
	"DubbingPlatform-server/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const platformName = "Multilingual AI Dubbing Platform"

type Ledger struct {
	db       *gorm.DB
	store    storage.Store
	embedder stages.Watermarker
	cfg      config.Ethics
	clock    models.Clock
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithClock(c models.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithEmbedder replaces the default copy based embedder.
func WithEmbedder(e stages.Watermarker) Option {
	return func(l *Ledger) { l.embedder = e }
}

func New(db *gorm.DB, store storage.Store, cfg config.Ethics, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		store:  store,
		cfg:    cfg,
		clock:  models.SystemClock{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.embedder == nil {
		l.embedder = NewCopyEmbedder(store)
	}
	l.logger = logging.NewComponentLogger(l.logger, "ledger")
	return l
}

// ConsentStatus summarises the active consents of a project.
type ConsentStatus struct {
	Active bool     `json:"hasConsent"`
	Count  int      `json:"consentCount"`
	Types  []string `json:"consentTypes"`
}

func (l *Ledger) CheckConsent(ctx context.Context, projectID string) (ConsentStatus, error) {
	var records []models.ConsentRecord
	if err := l.db.WithContext(ctx).
		Where("project_id = ? AND granted = ?", projectID, true).
		Order("created_at").
		Find(&records).Error; err != nil {
		return ConsentStatus{}, err
	}
	now := l.clock.Now()
	status := ConsentStatus{Types: []string{}}
	for i := range records {
		if records[i].IsActive(now) {
			status.Count++
			status.Types = append(status.Types, records[i].ConsentType)
		}
	}
	status.Active = status.Count > 0
	return status, nil
}

// ConsentInput describes a new consent record. It starts ungranted.
type ConsentInput struct {
	ProjectID         string     `json:"projectId"`
	OwnerID           string     `json:"-"`
	ConsentType       string     `json:"consentType"`
	SubjectName       string     `json:"subjectName"`
	SubjectIdentifier string     `json:"subjectIdentifier"`
	PermittedUses     []string   `json:"permittedUses"`
	Restrictions      []string   `json:"restrictions"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	Jurisdiction      string     `json:"jurisdiction"`
	LegalBasis        string     `json:"legalBasis"`
}

var consentTypes = map[string]bool{"voice": true, "likeness": true, "content": true}

func (l *Ledger) CreateConsent(ctx context.Context, in ConsentInput) (*models.ConsentRecord, error) {
	if !consentTypes[in.ConsentType] {
		return nil, models.Invalid("consentType", "must be one of voice, likeness, content")
	}
	if strings.TrimSpace(in.SubjectName) == "" {
		return nil, models.Invalid("subjectName", "is required")
	}
	if _, err := models.GetProject(l.db.WithContext(ctx), in.ProjectID); err != nil {
		return nil, err
	}
	now := l.clock.Now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, models.Invalid("expiresAt", "must be in the future")
	}
	if in.PermittedUses == nil {
		in.PermittedUses = []string{}
	}
	if in.Restrictions == nil {
		in.Restrictions = []string{}
	}
	record := &models.ConsentRecord{
		ID:                uuid.NewString(),
		ProjectID:         in.ProjectID,
		OwnerID:           in.OwnerID,
		ConsentType:       in.ConsentType,
		SubjectName:       in.SubjectName,
		SubjectIdentifier: in.SubjectIdentifier,
		PermittedUses:     in.PermittedUses,
		Restrictions:      in.Restrictions,
		ExpiresAt:         in.ExpiresAt,
		Jurisdiction:      in.Jurisdiction,
		LegalBasis:        in.LegalBasis,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("create consent: %w", err)
	}
	l.logger.Info("consent record created",
		logging.FieldProjectID, in.ProjectID,
		"consent_id", record.ID,
		"consent_type", in.ConsentType,
	)
	return record, nil
}

func (l *Ledger) Grant(ctx context.Context, consentID, documentRef string) (*models.ConsentRecord, error) {
	record, err := models.MutateConsent(l.db.WithContext(ctx), consentID, func(c *models.ConsentRecord) error {
		c.Grant(documentRef, l.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("consent granted", logging.FieldProjectID, record.ProjectID, "consent_id", consentID)
	return record, nil
}

func (l *Ledger) Revoke(ctx context.Context, consentID string) (*models.ConsentRecord, error) {
	record, err := models.MutateConsent(l.db.WithContext(ctx), consentID, func(c *models.ConsentRecord) error {
		c.Revoke(l.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("consent revoked", logging.FieldProjectID, record.ProjectID, "consent_id", consentID)
	return record, nil
}

func (l *Ledger) VerifyConsent(ctx context.Context, consentID, verifiedBy, method string) (*models.ConsentRecord, error) {
	if strings.TrimSpace(verifiedBy) == "" {
		return nil, models.Invalid("verifiedBy", "is required")
	}
	return models.MutateConsent(l.db.WithContext(ctx), consentID, func(c *models.ConsentRecord) error {
		c.Verify(verifiedBy, method, l.clock.Now())
		return nil
	})
}

func (l *Ledger) ListConsents(ctx context.Context, projectID string) ([]models.ConsentRecord, error) {
	var out []models.ConsentRecord
	err := l.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&out).Error
	return out, err
}

func (l *Ledger) ListWatermarks(ctx context.Context, projectID string) ([]models.WatermarkRecord, error) {
	var out []models.WatermarkRecord
	err := l.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&out).Error
	return out, err
}

func (l *Ledger) ListProvenance(ctx context.Context, projectID string) ([]models.ProvenanceRecord, error) {
	var out []models.ProvenanceRecord
	err := l.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&out).Error
	return out, err
}

// HashArtifact returns the hex sha256 of the stored object.
func (l *Ledger) HashArtifact(ctx context.Context, ref string) (string, error) {
	ok, err := l.store.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", models.NotFound("artifact", ref)
	}
	rc, err := l.store.Open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hash %s: %w", ref, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentType(ref string) string {
	switch strings.ToLower(path.Ext(ref)) {
	case ".mp4", ".avi", ".mov", ".mkv", ".webm":
		return "video"
	case ".wav", ".mp3", ".aac", ".flac":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".bmp":
		return "image"
	}
	return "unknown"
}
