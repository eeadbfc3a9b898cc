package ledger

import (
	"context"
	"math"
	"sort"
	"time"

	"DubbingPlatform-server/models"
)

// Score weights. They sum to 100.
const (
	consentPoints    = 30.0
	watermarkPoints  = 30.0
	provenancePoints = 40.0
)

// Score computes the compliance score from ledger state alone.
func Score(p *models.Project, consents []models.ConsentRecord, watermarks []models.WatermarkRecord, provenance []models.ProvenanceRecord, now time.Time) float64 {
	score := 0.0

	if !p.RequireConsent {
		score += consentPoints
	} else {
		for i := range consents {
			if consents[i].IsActive(now) {
				score += consentPoints
				break
			}
		}
	}

	if !p.EnableWatermarking {
		score += watermarkPoints
	} else if len(watermarks) > 0 {
		quality := 0.0
		for _, w := range watermarks {
			quality += (w.SNR/40 + w.SSIM) / 2
		}
		quality /= float64(len(watermarks))
		score += math.Min(watermarkPoints, quality*watermarkPoints)
	}

	if !p.EnableProvenance {
		score += provenancePoints
	} else if len(provenance) > 0 {
		compliant, reviewed := 0, 0
		for i := range provenance {
			if provenance[i].IsCompliant() {
				compliant++
			}
			if provenance[i].HumanReview {
				reviewed++
			}
		}
		n := float64(len(provenance))
		score += float64(compliant) / n * provenancePoints / 2
		score += float64(reviewed) / n * provenancePoints / 2
	}

	return math.Min(100, score)
}

type snapshot struct {
	project    *models.Project
	consents   []models.ConsentRecord
	watermarks []models.WatermarkRecord
	provenance []models.ProvenanceRecord
}

func (l *Ledger) load(ctx context.Context, projectID string) (*snapshot, error) {
	db := l.db.WithContext(ctx)
	p, err := models.GetProject(db, projectID)
	if err != nil {
		return nil, err
	}
	s := &snapshot{project: p}
	if s.consents, err = l.ListConsents(ctx, projectID); err != nil {
		return nil, err
	}
	if s.watermarks, err = l.ListWatermarks(ctx, projectID); err != nil {
		return nil, err
	}
	if s.provenance, err = l.ListProvenance(ctx, projectID); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Ledger) ComplianceScore(ctx context.Context, projectID string) (float64, error) {
	s, err := l.load(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return Score(s.project, s.consents, s.watermarks, s.provenance, l.clock.Now()), nil
}

type ConsentSummary struct {
	Total  int      `json:"totalRecords"`
	Active int      `json:"activeConsents"`
	Types  []string `json:"consentTypes"`
}

type WatermarkSummary struct {
	Total           int      `json:"totalWatermarks"`
	Types           []string `json:"watermarkTypes"`
	AverageStrength float64  `json:"averageStrength"`
	HighQuality     int      `json:"highQuality"`
	Robust          int      `json:"robust"`
}

type ProvenanceSummary struct {
	Total         int `json:"totalRecords"`
	Compliant     int `json:"c2paCompliant"`
	HumanReviewed int `json:"humanReviewed"`
}

// Dashboard is the per-project compliance overview.
type Dashboard struct {
	ProjectID       string            `json:"projectId"`
	Consent         ConsentSummary    `json:"consentStatus"`
	Watermarking    WatermarkSummary  `json:"watermarkingStatus"`
	Provenance      ProvenanceSummary `json:"provenanceStatus"`
	ComplianceScore float64           `json:"complianceScore"`
}

func (l *Ledger) Dashboard(ctx context.Context, projectID string) (*Dashboard, error) {
	s, err := l.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	d := &Dashboard{ProjectID: projectID}

	consentTypes := map[string]bool{}
	d.Consent.Total = len(s.consents)
	for i := range s.consents {
		consentTypes[s.consents[i].ConsentType] = true
		if s.consents[i].IsActive(now) {
			d.Consent.Active++
		}
	}
	d.Consent.Types = sortedKeys(consentTypes)

	wmTypes := map[string]bool{}
	d.Watermarking.Total = len(s.watermarks)
	for i := range s.watermarks {
		w := &s.watermarks[i]
		wmTypes[w.WatermarkType] = true
		d.Watermarking.AverageStrength += w.Strength
		if w.IsHighQuality() {
			d.Watermarking.HighQuality++
		}
		if w.IsRobust() {
			d.Watermarking.Robust++
		}
	}
	if len(s.watermarks) > 0 {
		d.Watermarking.AverageStrength /= float64(len(s.watermarks))
	}
	d.Watermarking.Types = sortedKeys(wmTypes)

	d.Provenance.Total = len(s.provenance)
	for i := range s.provenance {
		if s.provenance[i].IsCompliant() {
			d.Provenance.Compliant++
		}
		if s.provenance[i].HumanReview {
			d.Provenance.HumanReviewed++
		}
	}

	d.ComplianceScore = Score(s.project, s.consents, s.watermarks, s.provenance, now)
	return d, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
