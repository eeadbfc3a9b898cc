package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProvenanceInput appends Steps to the chain of one artifact lineage.
// LineageID empty means "the most recent chain of the project".
type ProvenanceInput struct {
	ProjectID   string
	LineageID   string
	ArtifactRef string
	Steps       []models.ProcessingStep
	SourceHash  string
	Params      map[string]interface{}
}

// RecordProvenance creates the chain for a lineage on first use and appends
// to it afterwards. The manifest is re-signed on every change.
func (l *Ledger) RecordProvenance(ctx context.Context, in ProvenanceInput) (*models.ProvenanceRecord, error) {
	if in.ProjectID == "" {
		return nil, models.Invalid("projectId", "is required")
	}
	var contentHash string
	if in.ArtifactRef != "" {
		h, err := l.HashArtifact(ctx, in.ArtifactRef)
		if err != nil {
			return nil, err
		}
		contentHash = h
	}

	var out models.ProvenanceRecord
	created := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()
		var rec models.ProvenanceRecord
		q := models.ForUpdate(tx).Where("project_id = ?", in.ProjectID)
		if in.LineageID != "" {
			q = q.Where("lineage_id = ?", in.LineageID)
		}
		err := q.Order("created_at DESC").Order("id DESC").First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if in.ArtifactRef == "" {
				return models.Invalid("artifactRef", "is required to start a provenance chain")
			}
			rec = models.ProvenanceRecord{
				ID:                   uuid.NewString(),
				ProjectID:            in.ProjectID,
				LineageID:            in.LineageID,
				SourceContentHash:    in.SourceHash,
				GenerationParameters: in.Params,
				GeneratedAt:          now,
				CreatedAt:            now,
			}
			created = true
		case err != nil:
			return err
		}

		if in.ArtifactRef != "" {
			rec.ContentRef = in.ArtifactRef
			rec.ContentType = contentType(in.ArtifactRef)
			rec.ContentHash = contentHash
		}
		for _, step := range in.Steps {
			rec.AddStep(step, now)
		}
		if err := l.sign(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = now
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		l.logger.Info("provenance chain created",
			logging.FieldProjectID, in.ProjectID,
			"provenance_id", out.ID,
			"lineage_id", in.LineageID,
		)
	} else {
		l.logger.Debug("provenance steps appended",
			logging.FieldProjectID, in.ProjectID,
			"provenance_id", out.ID,
			"steps", len(in.Steps),
		)
	}
	return &out, nil
}

// AddHumanReview marks a chain as reviewed. An empty recordID selects the
// project's most recent chain.
func (l *Ledger) AddHumanReview(ctx context.Context, projectID, recordID, reviewer, notes string) (*models.ProvenanceRecord, error) {
	if reviewer == "" {
		return nil, models.Invalid("reviewer", "is required")
	}
	db := l.db.WithContext(ctx)
	if recordID == "" {
		var latest models.ProvenanceRecord
		err := db.Where("project_id = ?", projectID).Order("created_at DESC").Order("id DESC").First(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NotFound("provenance record", projectID)
		}
		if err != nil {
			return nil, err
		}
		recordID = latest.ID
	}
	return models.MutateProvenance(db, recordID, func(p *models.ProvenanceRecord) error {
		if p.ProjectID != projectID {
			return models.NotFound("provenance record", recordID)
		}
		p.AddHumanReview(reviewer, notes, l.clock.Now())
		return nil
	})
}

// Manifest is a C2PA style claim describing how an artifact was produced.
type Manifest struct {
	ClaimGenerator string          `json:"claim_generator"`
	InstanceID     string          `json:"instance_id"`
	Title          string          `json:"title"`
	Format         string          `json:"format"`
	Assertions     []Assertion     `json:"assertions"`
	SignatureInfo  SignatureInfo   `json:"signature_info"`
	Ingredients    []IngredientRef `json:"ingredients,omitempty"`
}

type Assertion struct {
	Label string      `json:"label"`
	Data  interface{} `json:"data"`
}

type Action struct {
	Action        string                 `json:"action"`
	When          time.Time              `json:"when"`
	SoftwareAgent string                 `json:"softwareAgent"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

type SignatureInfo struct {
	Issuer string    `json:"issuer"`
	Alg    string    `json:"alg"`
	Time   time.Time `json:"time"`
}

type IngredientRef struct {
	Relationship string `json:"relationship"`
	Hash         string `json:"hash"`
}

// BuildManifest derives the manifest from the record's current state.
func (l *Ledger) BuildManifest(rec *models.ProvenanceRecord) Manifest {
	actions := make([]Action, 0, len(rec.ProcessingSteps))
	for _, s := range rec.ProcessingSteps {
		params := map[string]interface{}{"step": s.Name}
		for k, v := range s.Parameters {
			params[k] = v
		}
		actions = append(actions, Action{
			Action:        "c2pa.edited",
			When:          s.Timestamp,
			SoftwareAgent: s.Model,
			Parameters:    params,
		})
	}
	m := Manifest{
		ClaimGenerator: l.cfg.ClaimGenerator,
		InstanceID:     "urn:uuid:" + rec.ID,
		Title:          rec.ContentRef,
		Format:         rec.ContentType,
		Assertions: []Assertion{
			{Label: "c2pa.actions", Data: map[string]interface{}{"actions": actions}},
			{Label: "c2pa.hash.data", Data: map[string]string{"alg": "sha256", "hash": rec.ContentHash}},
			{Label: "c2pa.ai_generated", Data: map[string]interface{}{"generator": platformName, "models": []string(rec.ModelsUsed)}},
		},
		SignatureInfo: SignatureInfo{Issuer: platformName, Alg: "hs256", Time: rec.GeneratedAt},
	}
	if rec.SourceContentHash != "" {
		m.Ingredients = []IngredientRef{{Relationship: "parentOf", Hash: rec.SourceContentHash}}
	}
	return m
}

// sign stores the manifest and its HMAC. Without a signing key the manifest
// is stored unsigned and the record is not compliant.
func (l *Ledger) sign(rec *models.ProvenanceRecord) error {
	raw, err := json.Marshal(l.BuildManifest(rec))
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	rec.Manifest = raw
	if l.cfg.SigningKey == "" {
		rec.Signature = ""
		return nil
	}
	mac := hmac.New(sha256.New, []byte(l.cfg.SigningKey))
	mac.Write(raw)
	rec.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// VerifySignature reports whether the stored manifest matches its signature.
func (l *Ledger) VerifySignature(rec *models.ProvenanceRecord) bool {
	if rec.Signature == "" || l.cfg.SigningKey == "" {
		return false
	}
	want, err := hex.DecodeString(rec.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(l.cfg.SigningKey))
	mac.Write(rec.Manifest)
	return hmac.Equal(mac.Sum(nil), want)
}
