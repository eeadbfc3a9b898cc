package stages

import "context"

// Stage names as they appear in errors, logs and provenance steps.
const (
	StageRecognition = "recognition"
	StageTranslation = "translation"
	StageSynthesis   = "synthesis"
	StageReanimation = "reanimation"
	StageWatermark   = "watermark"
)

type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type RecognitionRequest struct {
	AudioRef       string `json:"audio_ref"`
	Language       string `json:"language,omitempty"`
	ReturnSegments bool   `json:"return_segments"`
}

type RecognitionResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

type TranslationRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type TranslationResult struct {
	TranslatedText  string  `json:"translated_text"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type SynthesisRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	SpeakerRef string `json:"speaker_ref,omitempty"`
	Emotion    string `json:"emotion"`
}

type SynthesisResult struct {
	AudioRef          string   `json:"audio_ref"`
	Duration          float64  `json:"duration"`
	SpeakerSimilarity *float64 `json:"speaker_similarity,omitempty"`
}

type ReanimationRequest struct {
	VideoRef           string `json:"video_ref"`
	AudioRef           string `json:"audio_ref"`
	Mode               string `json:"mode"`
	PreservePose       bool   `json:"preserve_pose"`
	PreserveExpression bool   `json:"preserve_expression"`
}

type ReanimationMetrics struct {
	LSEC          float64  `json:"lse_c"`
	FID           float64  `json:"fid"`
	AUCorrelation *float64 `json:"au_correlation,omitempty"`
}

type ReanimationResult struct {
	OutputVideoRef string             `json:"output_video_ref"`
	QualityMetrics ReanimationMetrics `json:"quality_metrics"`
}

// WatermarkRequest asks the embedding service to mark one artifact.
type WatermarkRequest struct {
	ContentRef string                 `json:"content_ref"`
	TargetRef  string                 `json:"target_ref"`
	Type       string                 `json:"type"`
	Method     string                 `json:"method"`
	Strength   float64                `json:"strength"`
	Payload    map[string]interface{} `json:"payload"`
}

type WatermarkResult struct {
	ContentRef          string  `json:"content_ref"`
	DetectionConfidence float64 `json:"detection_confidence"`
	SNR                 float64 `json:"snr"`
	SSIM                float64 `json:"ssim"`
}

type Recognizer interface {
	Recognize(ctx context.Context, req RecognitionRequest) (*RecognitionResult, error)
}

type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

type Reanimator interface {
	Reanimate(ctx context.Context, req ReanimationRequest) (*ReanimationResult, error)
}

type Watermarker interface {
	Embed(ctx context.Context, req WatermarkRequest) (*WatermarkResult, error)
}

// Set bundles the four pipeline adapters.
type Set struct {
	Recognizer  Recognizer
	Translator  Translator
	Synthesizer Synthesizer
	Reanimator  Reanimator
}
