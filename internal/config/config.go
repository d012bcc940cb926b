// Package config handles configuration loading from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selection modes.
const (
	BackendModeRemote  = "remote"  // persistently running transcription service
	BackendModeManaged = "managed" // provisioned on demand, reclaimed when idle
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" decode.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration values for the application.
type Config struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `yaml:"database_url"`

	// HTTPPort is the port the orchestrator API listens on.
	HTTPPort int `yaml:"http_port"`

	Worker  WorkerConfig  `yaml:"worker"`
	Backend BackendConfig `yaml:"backend"`

	// TranscriptDir is where completed transcript artifacts are written.
	TranscriptDir string `yaml:"transcript_dir"`

	// OTELEndpoint is the OTLP gRPC collector address. Empty disables tracing.
	OTELEndpoint string `yaml:"otel_endpoint"`

	// RateLimitRPS is the per-client request rate. 0 disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// WorkerConfig controls the scheduler's worker pool and retry policy.
type WorkerConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	PollInterval   Duration `yaml:"poll_interval"`
	MaxPollBackoff Duration `yaml:"max_poll_backoff"`
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`
	DrainTimeout   Duration `yaml:"drain_timeout"`

	// HeartbeatInterval is how often an in-flight attempt extends its
	// queue claim, keeping long invocations invisible to other workers.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// BackendConfig controls how the transcription backend is reached and,
// in managed mode, how it is provisioned.
type BackendConfig struct {
	Mode          string   `yaml:"mode"`
	URL           string   `yaml:"url"`
	InvokeTimeout Duration `yaml:"invoke_timeout"`

	// Managed mode only.
	Image              string   `yaml:"image"`
	ContainerName      string   `yaml:"container_name"`
	StartupBudget      Duration `yaml:"startup_budget"`
	HealthPollInterval Duration `yaml:"health_poll_interval"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
}

func defaults() *Config {
	return &Config{
		HTTPPort: 8750,
		Worker: WorkerConfig{
			Concurrency:    2,
			PollInterval:   Duration(1 * time.Second),
			MaxPollBackoff: Duration(30 * time.Second),
			MaxAttempts:    3,
			RetryBaseDelay: Duration(10 * time.Second),
			RetryMaxDelay:  Duration(5 * time.Minute),
			DrainTimeout:   Duration(30 * time.Second),

			HeartbeatInterval: Duration(5 * time.Minute),
		},
		Backend: BackendConfig{
			Mode:               BackendModeRemote,
			URL:                "http://localhost:8000",
			InvokeTimeout:      Duration(10 * time.Minute),
			Image:              "scribeq/whisper:latest",
			ContainerName:      "scribeq-whisper",
			StartupBudget:      Duration(2 * time.Minute),
			HealthPollInterval: Duration(2 * time.Second),
			IdleTimeout:        Duration(5 * time.Minute),
		},
		TranscriptDir:  "transcripts",
		RateLimitRPS:   0,
		RateLimitBurst: 10,
	}
}

// Load reads configuration from the given YAML file (optional) and applies
// environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.HTTPPort = p
	}

	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		c, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
		}
		cfg.Worker.Concurrency = c
	}

	if v := os.Getenv("WORKER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid WORKER_POLL_INTERVAL: %w", err)
		}
		cfg.Worker.PollInterval = Duration(d)
	}

	if v := os.Getenv("BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}

	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}

	if v := os.Getenv("BACKEND_IMAGE"); v != "" {
		cfg.Backend.Image = v
	}

	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}

	return nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.Backend.Mode {
	case BackendModeRemote, BackendModeManaged:
	default:
		return fmt.Errorf("invalid backend mode %q", c.Backend.Mode)
	}

	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}

	return nil
}
