package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database  Database `yaml:"database"`
	Redis     Redis    `yaml:"redis"`
	MinIO     MinIO    `yaml:"minio"`
	Storage   Storage  `yaml:"storage"`
	Stages    Stages   `yaml:"stages"`
	Pipeline  Pipeline `yaml:"pipeline"`
	Ethics    Ethics   `yaml:"ethics"`
	Quality   Quality  `yaml:"quality"`
	Languages []string `yaml:"languages"`
	Log       Log      `yaml:"log"`
}

type Database struct {
	Driver          string `yaml:"driver"` // mysql | postgres | sqlite
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	URLExpiry int    `yaml:"url_expiry"` // hours
}

type Storage struct {
	Backend  string `yaml:"backend"` // minio | local
	LocalDir string `yaml:"local_dir"`
	BaseURL  string `yaml:"base_url"`
}

// Endpoint describes one external AI stage service.
type Endpoint struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

func (e Endpoint) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

type Stages struct {
	Recognition Endpoint `yaml:"recognition"`
	Translation Endpoint `yaml:"translation"`
	Synthesis   Endpoint `yaml:"synthesis"`
	Reanimation Endpoint `yaml:"reanimation"`
	Watermark   Endpoint `yaml:"watermark"`
}

const (
	QualityGateAdvisory = "advisory"
	QualityGateBlocking = "blocking"
)

type Pipeline struct {
	// MaxConcurrentJobs bounds how many jobs the queue consumer runs at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// PerJobConcurrency bounds per-language fan-out inside one stage of one job.
	PerJobConcurrency int `yaml:"per_job_concurrency"`
	// MaxConcurrentCalls caps in-flight external calls across all jobs in the process.
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	JobTimeout         int    `yaml:"job_timeout"` // seconds
	QualityGate        string `yaml:"quality_gate"`
	MaxTargetLanguages int    `yaml:"max_target_languages"`
	ReanimationMode    string `yaml:"reanimation_mode"` // structural | end_to_end
	Models             Models `yaml:"models"`
}

func (p Pipeline) JobTimeoutDuration() time.Duration {
	return time.Duration(p.JobTimeout) * time.Second
}

func (p Pipeline) Blocking() bool {
	return p.QualityGate == QualityGateBlocking
}

// Models names the model identifiers recorded in provenance steps.
type Models struct {
	Recognition string `yaml:"recognition"`
	Translation string `yaml:"translation"`
	Synthesis   string `yaml:"synthesis"`
	Reanimation string `yaml:"reanimation"`
}

type Ethics struct {
	RequireConsent     bool    `yaml:"require_consent"`
	EnableWatermarking bool    `yaml:"enable_watermarking"`
	EnableProvenance   bool    `yaml:"enable_provenance"`
	WatermarkType      string  `yaml:"watermark_type"`
	WatermarkMethod    string  `yaml:"watermark_method"`
	WatermarkStrength  float64 `yaml:"watermark_strength"`
	SigningKey         string  `yaml:"signing_key"`
	ClaimGenerator     string  `yaml:"claim_generator"`
}

type Quality struct {
	TargetLSEC          float64 `yaml:"target_lse_c"`
	TargetFID           float64 `yaml:"target_fid"`
	TargetAUCorrelation float64 `yaml:"target_au_correlation"`
	TargetBLEU          float64 `yaml:"target_bleu"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Load reads a YAML file on top of Default, applies environment overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	// .env is a dev convenience; production injects the variables directly.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"DUBBING_DATABASE_DRIVER", &c.Database.Driver},
		{"DUBBING_DATABASE_DSN", &c.Database.DSN},
		{"DUBBING_REDIS_ADDR", &c.Redis.Addr},
		{"DUBBING_REDIS_PASSWORD", &c.Redis.Password},
		{"DUBBING_MINIO_ACCESS_KEY", &c.MinIO.AccessKey},
		{"DUBBING_MINIO_SECRET_KEY", &c.MinIO.SecretKey},
		{"DUBBING_SIGNING_KEY", &c.Ethics.SigningKey},
		{"DUBBING_PORT", &c.Server.Port},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}
