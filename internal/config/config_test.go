// Package config_test tests the configuration loading for the egtts-worker.
package config_test

import (
	"testing"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
jobs_subject = "egtts.jobs"
jobs_queue_group = "egtts-gpu"
audio_object_store_bucket = "EGTTS_AUDIO"
audio_created_subject = "audio.chunk.created"

[model]
root_dir = "/models/EGTTS-V0.1"
use_deepspeed = true
preload = true

[inference]
service_url = "http://127.0.0.1:9000"
timeout_seconds = 120
temperature = 0.65

[metrics]
listen_addr = ":9090"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "egtts.jobs", cfg.NATS.JobsSubject)
	assert.Equal(t, "egtts-gpu", cfg.NATS.JobsQueueGroup)
	assert.Equal(t, "EGTTS_AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "audio.chunk.created", cfg.NATS.AudioCreatedSubject)
	assert.Equal(t, "/models/EGTTS-V0.1/config.json", cfg.Model.ConfigPath)
	assert.Equal(t, "/models/EGTTS-V0.1", cfg.Model.CheckpointDir)
	assert.Equal(t, "/models/EGTTS-V0.1/vocab.json", cfg.Model.VocabPath)
	assert.True(t, cfg.Model.UseDeepSpeed)
	assert.True(t, cfg.Model.Preload)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Inference.ServiceURL)
	assert.Equal(t, 120, cfg.Inference.TimeoutSeconds)
	assert.InEpsilon(t, 0.65, cfg.Inference.Temperature, 0.001)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultJobsSubject, cfg.NATS.JobsSubject)
	assert.Equal(t, config.DefaultJobsQueueGroup, cfg.NATS.JobsQueueGroup)
	assert.Equal(t, "/models/EGTTS-V0.1/config.json", cfg.Model.ConfigPath)
	assert.Equal(t, "/models/EGTTS-V0.1", cfg.Model.CheckpointDir)
	assert.Equal(t, "/models/EGTTS-V0.1/vocab.json", cfg.Model.VocabPath)
	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, "ar", cfg.Inference.DefaultLanguage)
	assert.InEpsilon(t, 0.75, cfg.Inference.Temperature, 0.0001)
	assert.Equal(t, config.DefaultTimeoutSeconds, cfg.Inference.TimeoutSeconds)
	assert.Empty(t, cfg.NATS.AudioObjectStoreBucket)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults_ExplicitPathsWin(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Model: config.ModelConfig{
			RootDir:   "/srv/egtts",
			VocabPath: "/opt/vocab/custom.json",
		},
	}

	cfg.ApplyDefaults()

	assert.Equal(t, "/srv/egtts/config.json", cfg.Model.ConfigPath)
	assert.Equal(t, "/srv/egtts", cfg.Model.CheckpointDir)
	assert.Equal(t, "/opt/vocab/custom.json", cfg.Model.VocabPath)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{
			name:    "missing service url",
			mutate:  func(cfg *config.Config) { cfg.Inference.ServiceURL = "" },
			wantErr: config.ErrMissingField,
		},
		{
			name:    "missing vocab path",
			mutate:  func(cfg *config.Config) { cfg.Model.VocabPath = "" },
			wantErr: config.ErrMissingField,
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *config.Config) { cfg.Inference.TimeoutSeconds = -1 },
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name:    "negative temperature",
			mutate:  func(cfg *config.Config) { cfg.Inference.Temperature = -0.1 },
			wantErr: config.ErrInvalidTemperature,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			testCase.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}
