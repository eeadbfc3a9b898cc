package testsupport

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
	"DubbingPlatform-server/storage"
)

// FakeStages implements every stage adapter in memory. Hooks run before the
// canned reply; a non-nil error from a hook is returned to the caller.
type FakeStages struct {
	mu    sync.Mutex
	calls map[string][]string

	OnRecognize  func(ctx context.Context, req stages.RecognitionRequest) error
	OnTranslate  func(ctx context.Context, req stages.TranslationRequest) error
	OnSynthesize func(ctx context.Context, req stages.SynthesisRequest) error
	OnReanimate  func(ctx context.Context, req stages.ReanimationRequest) error

	LSEC float64
	FID  float64

	// Store receives the dubbed videos when set, so later steps can read them.
	Store storage.Store
}

func NewFakeStages() *FakeStages {
	return &FakeStages{calls: map[string][]string{}, LSEC: 0.9, FID: 12}
}

func (f *FakeStages) Set() stages.Set {
	return stages.Set{Recognizer: f, Translator: f, Synthesizer: f, Reanimator: f}
}

func (f *FakeStages) record(stage, arg string) {
	f.mu.Lock()
	f.calls[stage] = append(f.calls[stage], arg)
	f.mu.Unlock()
}

// Calls returns the recorded arguments for stage (language or ref).
func (f *FakeStages) Calls(stage string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[stage]...)
}

func (f *FakeStages) Recognize(ctx context.Context, req stages.RecognitionRequest) (*stages.RecognitionResult, error) {
	f.record(stages.StageRecognition, req.AudioRef)
	if f.OnRecognize != nil {
		if err := f.OnRecognize(ctx, req); err != nil {
			return nil, err
		}
	}
	return &stages.RecognitionResult{
		Text:     "hello world",
		Language: "en",
		Segments: []stages.Segment{{Start: 0, End: 1.2, Text: "hello world", Confidence: 0.97}},
	}, nil
}

func (f *FakeStages) Translate(ctx context.Context, req stages.TranslationRequest) (*stages.TranslationResult, error) {
	f.record(stages.StageTranslation, req.TargetLanguage)
	if f.OnTranslate != nil {
		if err := f.OnTranslate(ctx, req); err != nil {
			return nil, err
		}
	}
	return &stages.TranslationResult{
		TranslatedText:  fmt.Sprintf("[%s] %s", req.TargetLanguage, req.Text),
		ConfidenceScore: 0.9,
	}, nil
}

func (f *FakeStages) Synthesize(ctx context.Context, req stages.SynthesisRequest) (*stages.SynthesisResult, error) {
	f.record(stages.StageSynthesis, req.Language)
	if f.OnSynthesize != nil {
		if err := f.OnSynthesize(ctx, req); err != nil {
			return nil, err
		}
	}
	sim := 0.88
	return &stages.SynthesisResult{
		AudioRef:          fmt.Sprintf("synth/%s.wav", req.Language),
		Duration:          1.2,
		SpeakerSimilarity: &sim,
	}, nil
}

func (f *FakeStages) Reanimate(ctx context.Context, req stages.ReanimationRequest) (*stages.ReanimationResult, error) {
	f.record(stages.StageReanimation, req.AudioRef)
	if f.OnReanimate != nil {
		if err := f.OnReanimate(ctx, req); err != nil {
			return nil, err
		}
	}
	lang := strings.TrimSuffix(path.Base(req.AudioRef), path.Ext(req.AudioRef))
	out := fmt.Sprintf("dubbed/%s.mp4", lang)
	if f.Store != nil {
		if err := f.Store.Put(ctx, out, strings.NewReader("dubbed-"+lang), -1); err != nil {
			return nil, err
		}
	}
	return &stages.ReanimationResult{
		OutputVideoRef: out,
		QualityMetrics: stages.ReanimationMetrics{LSEC: f.LSEC, FID: f.FID},
	}, nil
}

// StageError builds the error a failing adapter would return.
func StageError(stage, message string) error {
	return &models.AIServiceError{Stage: stage, Message: message}
}
