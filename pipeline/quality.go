package pipeline

import (
	"fmt"
	"math"

	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
)

// Thresholds are the per-project quality targets.
type Thresholds struct {
	LSEC          float64
	FID           float64
	AUCorrelation float64
	BLEU          float64
}

func thresholdsFor(p *models.Project) Thresholds {
	return Thresholds{
		LSEC:          p.TargetLSEC,
		FID:           p.TargetFID,
		AUCorrelation: p.TargetAUCorrelation,
		BLEU:          p.TargetBLEU,
	}
}

// Assess scores one language against the thresholds. Translation confidence
// is compared to the BLEU target on a 0-100 scale.
func Assess(t Thresholds, tr *stages.TranslationResult, syn *stages.SynthesisResult, re *stages.ReanimationResult) models.QualityMetrics {
	m := models.QualityMetrics{
		LSEC:                  re.QualityMetrics.LSEC,
		FID:                   re.QualityMetrics.FID,
		AUCorrelation:         re.QualityMetrics.AUCorrelation,
		TranslationConfidence: tr.ConfidenceScore,
		SpeakerSimilarity:     syn.SpeakerSimilarity,
	}

	parts := []float64{
		ratio(m.LSEC, t.LSEC),
		inverseRatio(m.FID, t.FID),
		ratio(m.TranslationConfidence*100, t.BLEU),
	}
	if t.LSEC > 0 && m.LSEC < t.LSEC {
		m.Issues = append(m.Issues, fmt.Sprintf("lse_c %.3f below target %.3f", m.LSEC, t.LSEC))
	}
	if t.FID > 0 && m.FID > t.FID {
		m.Issues = append(m.Issues, fmt.Sprintf("fid %.2f above target %.2f", m.FID, t.FID))
	}
	if m.AUCorrelation != nil {
		parts = append(parts, ratio(*m.AUCorrelation, t.AUCorrelation))
		if t.AUCorrelation > 0 && *m.AUCorrelation < t.AUCorrelation {
			m.Issues = append(m.Issues, fmt.Sprintf("au_correlation %.3f below target %.3f", *m.AUCorrelation, t.AUCorrelation))
		}
	}
	if t.BLEU > 0 && m.TranslationConfidence*100 < t.BLEU {
		m.Issues = append(m.Issues, fmt.Sprintf("translation confidence %.2f below target %.1f", m.TranslationConfidence, t.BLEU/100))
	}
	if m.SpeakerSimilarity != nil {
		parts = append(parts, math.Min(1, math.Max(0, *m.SpeakerSimilarity)))
	}

	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	m.OverallScore = math.Round(sum/float64(len(parts))*1000) / 1000
	m.Passed = len(m.Issues) == 0
	return m
}

func ratio(v, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return math.Min(1, math.Max(0, v/target))
}

func inverseRatio(v, target float64) float64 {
	if target <= 0 || v <= 0 {
		return 1
	}
	return math.Min(1, target/v)
}
