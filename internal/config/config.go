// Package config provides the configuration structure for the egtts-worker.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults for the fixed model layout and the job contract.
const (
	DefaultModelRoot      = "/models/EGTTS-V0.1"
	DefaultConfigFile     = "config.json"
	DefaultVocabFile      = "vocab.json"
	DefaultDevice         = "cuda"
	DefaultLanguage       = "ar"
	DefaultTemperature    = 0.75
	DefaultTimeoutSeconds = 300
	DefaultJobsSubject    = "egtts.jobs"
	DefaultJobsQueueGroup = "egtts-workers"
	DefaultInferenceURL   = "http://127.0.0.1:8000"
	DefaultLogsDir        = "logs"
	defaultNATSURL        = "nats://127.0.0.1:4222"
	errFmtMissingField    = "%w: %s"
	errFmtInvalidTimeout  = "%w: got %d"
	errFmtInvalidTemp     = "%w: got %f"
)

var (
	// ErrMissingField indicates that a required configuration value is empty.
	ErrMissingField = errors.New("missing required configuration value")
	// ErrInvalidTimeout indicates that the inference timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout_seconds must be positive")
	// ErrInvalidTemperature indicates that the default temperature is negative.
	ErrInvalidTemperature = errors.New("default temperature must be >= 0.0")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobsSubject            string `toml:"jobs_subject"`
	JobsQueueGroup         string `toml:"jobs_queue_group"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	AudioCreatedSubject    string `toml:"audio_created_subject"`
}

// ModelConfig holds the on-disk layout of the checkpoint.
type ModelConfig struct {
	RootDir       string `toml:"root_dir"`
	ConfigPath    string `toml:"config_path"`
	CheckpointDir string `toml:"checkpoint_dir"`
	VocabPath     string `toml:"vocab_path"`
	Device        string `toml:"device"`
	UseDeepSpeed  bool   `toml:"use_deepspeed"`
	Preload       bool   `toml:"preload"`
}

// InferenceConfig holds the settings for the inference sidecar and job defaults.
type InferenceConfig struct {
	ServiceURL      string  `toml:"service_url"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	DefaultLanguage string  `toml:"default_language"`
	Temperature     float64 `toml:"temperature"`
}

// MetricsConfig holds the metrics and health listener settings.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Model     ModelConfig     `toml:"model"`
	Inference InferenceConfig `toml:"inference"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the egtts-worker.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset value with its default. Model file paths
// are derived from the model root unless set explicitly.
func (c *Config) ApplyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = defaultNATSURL
	}

	if c.NATS.JobsSubject == "" {
		c.NATS.JobsSubject = DefaultJobsSubject
	}

	if c.NATS.JobsQueueGroup == "" {
		c.NATS.JobsQueueGroup = DefaultJobsQueueGroup
	}

	if c.Model.RootDir == "" {
		c.Model.RootDir = DefaultModelRoot
	}

	if c.Model.ConfigPath == "" {
		c.Model.ConfigPath = filepath.Join(c.Model.RootDir, DefaultConfigFile)
	}

	if c.Model.CheckpointDir == "" {
		c.Model.CheckpointDir = c.Model.RootDir
	}

	if c.Model.VocabPath == "" {
		c.Model.VocabPath = filepath.Join(c.Model.RootDir, DefaultVocabFile)
	}

	if c.Model.Device == "" {
		c.Model.Device = DefaultDevice
	}

	if c.Inference.ServiceURL == "" {
		c.Inference.ServiceURL = DefaultInferenceURL
	}

	if c.Inference.TimeoutSeconds == 0 {
		c.Inference.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Inference.DefaultLanguage == "" {
		c.Inference.DefaultLanguage = DefaultLanguage
	}

	if c.Inference.Temperature == 0 {
		c.Inference.Temperature = DefaultTemperature
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = DefaultLogsDir
	}
}

// Validate checks that the configuration can be used to start the worker.
func (c *Config) Validate() error {
	required := map[string]string{
		"nats.url":              c.NATS.URL,
		"nats.jobs_subject":     c.NATS.JobsSubject,
		"model.config_path":     c.Model.ConfigPath,
		"model.checkpoint_dir":  c.Model.CheckpointDir,
		"model.vocab_path":      c.Model.VocabPath,
		"inference.service_url": c.Inference.ServiceURL,
	}

	for name, value := range required {
		if value == "" {
			return fmt.Errorf(errFmtMissingField, ErrMissingField, name)
		}
	}

	if c.Inference.TimeoutSeconds < 0 {
		return fmt.Errorf(errFmtInvalidTimeout, ErrInvalidTimeout, c.Inference.TimeoutSeconds)
	}

	if c.Inference.Temperature < 0 {
		return fmt.Errorf(errFmtInvalidTemp, ErrInvalidTemperature, c.Inference.Temperature)
	}

	return nil
}
