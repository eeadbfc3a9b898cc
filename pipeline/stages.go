package pipeline

import (
	"context"
	"fmt"

	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
)

// recordSource opens the provenance chain of the input video. It also
// proves the input exists before any compute is spent on it.
func (o *Orchestrator) recordSource(ctx context.Context, r *run) error {
	ref := r.job.Parameters.VideoRef
	hash, err := o.ledger.HashArtifact(ctx, ref)
	if err != nil {
		return err
	}
	r.sourceHash = hash
	if !r.project.EnableProvenance {
		return nil
	}
	_, err = o.ledger.RecordProvenance(ctx, ledger.ProvenanceInput{
		ProjectID:   r.project.ID,
		LineageID:   r.job.ID + "/source",
		ArtifactRef: ref,
		Steps: []models.ProcessingStep{{
			Name:       "ingest",
			Model:      "upload",
			Parameters: map[string]interface{}{"job_id": r.job.ID, "retry_count": r.job.RetryCount},
		}},
		Params: map[string]interface{}{"target_languages": r.langs, "source_language": r.source},
	})
	return err
}

func (o *Orchestrator) recognize(ctx context.Context, r *run) error {
	lang := r.job.Parameters.Recognition.Language
	if lang == "" {
		lang = r.source
	}
	return o.call(ctx, func(ctx context.Context) error {
		res, err := o.stages.Recognizer.Recognize(ctx, stages.RecognitionRequest{
			AudioRef: r.job.Parameters.VideoRef,
			Language: lang,
		})
		if err != nil {
			return err
		}
		r.transcript = res
		if r.source == "" {
			r.source = res.Language
		}
		return nil
	})
}

func (o *Orchestrator) translate(ctx context.Context, r *run) error {
	out, err := fanOut(ctx, o, r, stages.StageTranslation, func(ctx context.Context, lang string) (*stages.TranslationResult, error) {
		return o.stages.Translator.Translate(ctx, stages.TranslationRequest{
			Text:           r.transcript.Text,
			SourceLanguage: r.source,
			TargetLanguage: lang,
		})
	})
	r.translations = out
	return err
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) error {
	params := r.job.Parameters.Synthesis
	speaker := ""
	if params.VoiceCloning {
		speaker = r.job.Parameters.VideoRef
	}
	emotion := params.Emotion
	if emotion == "" {
		emotion = "neutral"
	}
	out, err := fanOut(ctx, o, r, stages.StageSynthesis, func(ctx context.Context, lang string) (*stages.SynthesisResult, error) {
		return o.stages.Synthesizer.Synthesize(ctx, stages.SynthesisRequest{
			Text:       r.translations[lang].TranslatedText,
			Language:   lang,
			SpeakerRef: speaker,
			Emotion:    emotion,
		})
	})
	r.audio = out
	return err
}

func (o *Orchestrator) reanimate(ctx context.Context, r *run) error {
	params := r.job.Parameters.Reanimation
	mode := params.Mode
	if mode == "" {
		mode = o.cfg.Pipeline.ReanimationMode
	}
	out, err := fanOut(ctx, o, r, stages.StageReanimation, func(ctx context.Context, lang string) (*stages.ReanimationResult, error) {
		return o.stages.Reanimator.Reanimate(ctx, stages.ReanimationRequest{
			VideoRef:           r.job.Parameters.VideoRef,
			AudioRef:           r.audio[lang].AudioRef,
			Mode:               mode,
			PreservePose:       params.PreservePose,
			PreserveExpression: params.PreserveExpression,
		})
	})
	r.videos = out
	return err
}

// qualityGate records metrics for every language. In blocking mode the
// first failing language fails the job.
func (o *Orchestrator) qualityGate(_ context.Context, r *run) error {
	t := thresholdsFor(r.project)
	r.metrics = make(models.QualityReport, len(r.langs))
	var blocked error
	for _, lang := range r.langs {
		m := Assess(t, r.translations[lang], r.audio[lang], r.videos[lang])
		r.metrics[lang] = m
		if m.Passed {
			continue
		}
		r.logger.Warn("quality below target",
			logging.FieldLanguage, lang,
			logging.FieldEventType, "quality_issue",
			"issues", m.Issues,
			"overall_score", m.OverallScore,
		)
		if blocked == nil && o.cfg.Pipeline.Blocking() {
			blocked = &models.QualityError{Language: lang, Issues: m.Issues}
		}
	}
	return blocked
}

// postProcess watermarks each output when the project asks for it and
// appends the language's provenance steps.
func (o *Orchestrator) postProcess(ctx context.Context, r *run) (models.JobOutputs, error) {
	ids := o.cfg.Pipeline.Models
	artifacts, err := fanOut(ctx, o, r, stages.StageWatermark, func(ctx context.Context, lang string) (models.OutputArtifact, error) {
		art := models.OutputArtifact{
			VideoRef: r.videos[lang].OutputVideoRef,
			AudioRef: r.audio[lang].AudioRef,
		}
		m := r.metrics[lang]
		steps := []models.ProcessingStep{
			{Name: stages.StageRecognition, Model: ids.Recognition, Parameters: map[string]interface{}{"language": r.source}},
			{Name: stages.StageTranslation, Model: ids.Translation, Parameters: map[string]interface{}{
				"target_language": lang, "confidence": m.TranslationConfidence,
			}},
			{Name: stages.StageSynthesis, Model: ids.Synthesis, Parameters: map[string]interface{}{"language": lang}},
			{Name: stages.StageReanimation, Model: ids.Reanimation, Parameters: map[string]interface{}{
				"lse_c": m.LSEC, "fid": m.FID, "overall_score": m.OverallScore, "passed": m.Passed,
			}},
		}

		if r.project.EnableWatermarking {
			wm, err := o.ledger.ApplyWatermark(ctx, ledger.WatermarkInput{
				ProjectID:   r.project.ID,
				ArtifactRef: art.VideoRef,
			})
			if err != nil {
				return art, fmt.Errorf("watermark %s: %w", lang, err)
			}
			art.OriginalRef = art.VideoRef
			art.VideoRef = wm.ContentRef
			art.WatermarkID = wm.ID
			steps = append(steps, models.ProcessingStep{
				Name:  stages.StageWatermark,
				Model: wm.Method,
				Parameters: map[string]interface{}{
					"watermark_id": wm.ID, "strength": wm.Strength, "snr": wm.SNR, "ssim": wm.SSIM,
				},
			})
		}

		rec, err := o.ledger.RecordProvenance(ctx, ledger.ProvenanceInput{
			ProjectID:   r.project.ID,
			LineageID:   r.job.ID + "/" + lang,
			ArtifactRef: art.VideoRef,
			Steps:       steps,
			SourceHash:  r.sourceHash,
			Params: map[string]interface{}{
				"target_language": lang,
				"source_language": r.source,
				"emotion":         r.job.Parameters.Synthesis.Emotion,
				"voice_cloning":   r.job.Parameters.Synthesis.VoiceCloning,
			},
		})
		if err != nil {
			return art, fmt.Errorf("provenance %s: %w", lang, err)
		}
		art.ProvenanceID = rec.ID
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return models.JobOutputs(artifacts), nil
}
