package stages

import (
	"context"
	"net/http"

	"DubbingPlatform-server/config"
)

type HTTPRecognizer struct{ c jsonClient }

func NewHTTPRecognizer(ep config.Endpoint, hc *http.Client) *HTTPRecognizer {
	return &HTTPRecognizer{c: newJSONClient(StageRecognition, ep, hc)}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, req RecognitionRequest) (*RecognitionResult, error) {
	req.ReturnSegments = true
	var out RecognitionResult
	if err := r.c.post(ctx, "/transcribe", req, &out); err != nil {
		return nil, err
	}
	if out.Text == "" {
		return nil, r.c.fail("empty transcript", nil)
	}
	return &out, nil
}

type HTTPTranslator struct{ c jsonClient }

func NewHTTPTranslator(ep config.Endpoint, hc *http.Client) *HTTPTranslator {
	return &HTTPTranslator{c: newJSONClient(StageTranslation, ep, hc)}
}

func (t *HTTPTranslator) Translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error) {
	var out TranslationResult
	if err := t.c.post(ctx, "/translate", req, &out); err != nil {
		return nil, err
	}
	if out.TranslatedText == "" {
		return nil, t.c.fail("empty translation for "+req.TargetLanguage, nil)
	}
	return &out, nil
}

type HTTPSynthesizer struct{ c jsonClient }

func NewHTTPSynthesizer(ep config.Endpoint, hc *http.Client) *HTTPSynthesizer {
	return &HTTPSynthesizer{c: newJSONClient(StageSynthesis, ep, hc)}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	var out SynthesisResult
	if err := s.c.post(ctx, "/synthesize", req, &out); err != nil {
		return nil, err
	}
	if out.AudioRef == "" {
		return nil, s.c.fail("response missing audio_ref", nil)
	}
	return &out, nil
}

type HTTPReanimator struct{ c jsonClient }

func NewHTTPReanimator(ep config.Endpoint, hc *http.Client) *HTTPReanimator {
	return &HTTPReanimator{c: newJSONClient(StageReanimation, ep, hc)}
}

func (r *HTTPReanimator) Reanimate(ctx context.Context, req ReanimationRequest) (*ReanimationResult, error) {
	var out ReanimationResult
	if err := r.c.post(ctx, "/animate", req, &out); err != nil {
		return nil, err
	}
	if out.OutputVideoRef == "" {
		return nil, r.c.fail("response missing output_video_ref", nil)
	}
	return &out, nil
}

type HTTPWatermarker struct{ c jsonClient }

func NewHTTPWatermarker(ep config.Endpoint, hc *http.Client) *HTTPWatermarker {
	return &HTTPWatermarker{c: newJSONClient(StageWatermark, ep, hc)}
}

func (w *HTTPWatermarker) Embed(ctx context.Context, req WatermarkRequest) (*WatermarkResult, error) {
	var out WatermarkResult
	if err := w.c.post(ctx, "/embed", req, &out); err != nil {
		return nil, err
	}
	if out.ContentRef == "" {
		out.ContentRef = req.TargetRef
	}
	return &out, nil
}

// NewHTTPSet wires the four pipeline adapters from configuration.
func NewHTTPSet(cfg config.Stages, hc *http.Client) Set {
	return Set{
		Recognizer:  NewHTTPRecognizer(cfg.Recognition, hc),
		Translator:  NewHTTPTranslator(cfg.Translation, hc),
		Synthesizer: NewHTTPSynthesizer(cfg.Synthesis, hc),
		Reanimator:  NewHTTPReanimator(cfg.Reanimation, hc),
	}
}
