package config

import (
	"errors"
	"fmt"
	"strings"
)

// supportedLanguages is the default set of ISO 639-1 codes the stages accept.
var supportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko",
	"ar", "hi", "th", "vi", "tr", "pl", "nl", "sv", "da", "no",
	"fi", "el", "he", "cs", "hu", "ro", "bg", "hr", "sk", "sl",
	"et", "lv", "lt", "mt", "ga", "cy", "eu", "ca", "gl", "is",
	"mk", "sq", "sr", "bs", "me", "az", "kk", "ky", "uz", "tg",
}

// Default returns a configuration usable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = ":8080"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	cfg.Database = Database{
		Driver:          "mysql",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3600,
	}
	cfg.Redis = Redis{Addr: "127.0.0.1:6379"}
	cfg.MinIO = MinIO{Bucket: "dubbing", URLExpiry: 72}
	cfg.Storage = Storage{Backend: "minio", LocalDir: "./uploads"}

	cfg.Stages = Stages{
		Recognition: Endpoint{URL: "http://localhost:8001", Timeout: 300},
		Translation: Endpoint{URL: "http://localhost:8002", Timeout: 120},
		Synthesis:   Endpoint{URL: "http://localhost:8003", Timeout: 180},
		Reanimation: Endpoint{URL: "http://localhost:8004", Timeout: 600},
		Watermark:   Endpoint{Timeout: 120},
	}
	cfg.Pipeline = Pipeline{
		MaxConcurrentJobs:  5,
		PerJobConcurrency:  4,
		MaxConcurrentCalls: 16,
		JobTimeout:         3600,
		QualityGate:        QualityGateAdvisory,
		MaxTargetLanguages: 10,
		ReanimationMode:    "structural",
		Models: Models{
			Recognition: "whisper-large-v3",
			Translation: "seamlessM4T",
			Synthesis:   "VITS",
			Reanimation: "DAE-Talker",
		},
	}
	cfg.Ethics = Ethics{
		RequireConsent:     true,
		EnableWatermarking: true,
		EnableProvenance:   true,
		WatermarkType:      "invisible",
		WatermarkMethod:    "LSB",
		WatermarkStrength:  0.1,
		ClaimGenerator:     "Multilingual AI Dubbing Platform/1.0.0",
	}
	cfg.Quality = Quality{
		TargetLSEC:          0.85,
		TargetFID:           15.0,
		TargetAUCorrelation: 0.75,
		TargetBLEU:          35.0,
	}
	cfg.Languages = append([]string(nil), supportedLanguages...)
	cfg.Log = Log{Level: "info", Format: "console"}
	return cfg
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Pipeline.QualityGate = strings.ToLower(strings.TrimSpace(c.Pipeline.QualityGate))
	for i, lang := range c.Languages {
		c.Languages[i] = strings.ToLower(strings.TrimSpace(lang))
	}
	if c.Pipeline.PerJobConcurrency <= 0 {
		c.Pipeline.PerJobConcurrency = 1
	}
	if c.Pipeline.MaxConcurrentCalls <= 0 {
		c.Pipeline.MaxConcurrentCalls = c.Pipeline.PerJobConcurrency
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "minio", "local":
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	switch c.Pipeline.QualityGate {
	case QualityGateAdvisory, QualityGateBlocking:
	default:
		return fmt.Errorf("pipeline.quality_gate: unsupported value %q", c.Pipeline.QualityGate)
	}
	if c.Pipeline.MaxTargetLanguages <= 0 {
		return errors.New("pipeline.max_target_languages must be positive")
	}
	if c.Ethics.WatermarkStrength < 0 || c.Ethics.WatermarkStrength > 1 {
		return errors.New("ethics.watermark_strength must be between 0 and 1")
	}
	if len(c.Languages) == 0 {
		return errors.New("languages must not be empty")
	}
	for name, ep := range map[string]Endpoint{
		"recognition": c.Stages.Recognition,
		"translation": c.Stages.Translation,
		"synthesis":   c.Stages.Synthesis,
		"reanimation": c.Stages.Reanimation,
	} {
		if ep.Timeout <= 0 {
			return fmt.Errorf("stages.%s.timeout must be positive", name)
		}
	}
	return nil
}

// Supports reports whether lang is in the configured language set.
func (c *Config) Supports(lang string) bool {
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
