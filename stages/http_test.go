package stages_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
)

func endpoint(url string, timeout int) config.Endpoint {
	return config.Endpoint{URL: url, Timeout: timeout}
}

func TestTranslatorPostsContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["source_language"] != "en" || body["target_language"] != "fr" || body["text"] != "hello" {
			t.Errorf("unexpected body %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"translated_text":  "bonjour",
			"confidence_score": 0.91,
		})
	}))
	defer srv.Close()

	tr := stages.NewHTTPTranslator(endpoint(srv.URL, 5), srv.Client())
	out, err := tr.Translate(context.Background(), stages.TranslationRequest{
		Text: "hello", SourceLanguage: "en", TargetLanguage: "fr",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out.TranslatedText != "bonjour" || out.ConfidenceScore != 0.91 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestReanimatorDecodesOptionalMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output_video_ref":"out/fr.mp4","quality_metrics":{"lse_c":0.9,"fid":12.5}}`))
	}))
	defer srv.Close()

	ra := stages.NewHTTPReanimator(endpoint(srv.URL, 5), srv.Client())
	out, err := ra.Reanimate(context.Background(), stages.ReanimationRequest{VideoRef: "in.mp4", AudioRef: "fr.wav", Mode: "structural"})
	if err != nil {
		t.Fatalf("Reanimate: %v", err)
	}
	if out.OutputVideoRef != "out/fr.mp4" || out.QualityMetrics.AUCorrelation != nil {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestAdapterErrorsAreAIServiceErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"detail":"model offline"}`))
			},
			want: "model offline",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			want: "decode response",
		},
		{
			name: "missing field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"duration":1.5}`))
			},
			want: "audio_ref",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			syn := stages.NewHTTPSynthesizer(endpoint(srv.URL, 5), srv.Client())
			_, err := syn.Synthesize(context.Background(), stages.SynthesisRequest{Text: "hola", Language: "es"})
			var aiErr *models.AIServiceError
			if !errors.As(err, &aiErr) {
				t.Fatalf("expected AIServiceError, got %v", err)
			}
			if aiErr.Stage != stages.StageSynthesis {
				t.Fatalf("unexpected stage %q", aiErr.Stage)
			}
			if !strings.Contains(aiErr.Message, tc.want) {
				t.Fatalf("expected message to contain %q, got %q", tc.want, aiErr.Message)
			}
		})
	}
}

func TestRecognizerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := stages.NewHTTPRecognizer(config.Endpoint{URL: srv.URL}, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rec.Recognize(ctx, stages.RecognitionRequest{AudioRef: "in.mp4"})
	if !errors.Is(err, models.ErrAIService) {
		t.Fatalf("expected AI service error, got %v", err)
	}
	var aiErr *models.AIServiceError
	if errors.As(err, &aiErr) && aiErr.Stage != stages.StageRecognition {
		t.Fatalf("unexpected stage %q", aiErr.Stage)
	}
}

func TestUnconfiguredEndpoint(t *testing.T) {
	wm := stages.NewHTTPWatermarker(config.Endpoint{}, nil)
	_, err := wm.Embed(context.Background(), stages.WatermarkRequest{ContentRef: "a.mp4"})
	if !errors.Is(err, models.ErrAIService) {
		t.Fatalf("expected AI service error, got %v", err)
	}
}
