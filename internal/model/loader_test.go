package model_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/model"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelConfig = `{
  "model": "xtts",
  "languages": ["en", "ar", "es"],
  "temperature": 0.75,
  "audio": {"sample_rate": 22050, "output_sample_rate": 24000}
}`

var errMockLoad = errors.New("mock cuda out of memory")

// countingBackend is a ModelBackend that records how often it was asked to load.
type countingBackend struct {
	loads      atomic.Int32
	delay      time.Duration
	shouldFail bool

	mu       sync.Mutex
	lastSpec core.ModelSpec
}

func (b *countingBackend) Load(_ context.Context, spec core.ModelSpec) (core.Synthesizer, error) {
	b.loads.Add(1)

	b.mu.Lock()
	b.lastSpec = spec
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	if b.shouldFail {
		return nil, errMockLoad
	}

	return &nopSynthesizer{name: "egtts"}, nil
}

type nopSynthesizer struct {
	name string
}

func (s *nopSynthesizer) ConditioningLatents(_ context.Context, _ string) (core.Conditioning, error) {
	return core.Conditioning{}, nil
}

func (s *nopSynthesizer) Inference(_ context.Context, _ core.InferenceRequest) ([]float32, error) {
	return []float32{0}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveModelLoad(result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.results = append(o.results, result)
}

// writeModelDir lays out a checkpoint directory the way the container image does.
func writeModelDir(t *testing.T) config.ModelConfig {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.json"), []byte(testModelConfig), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vocab.json"), []byte(`{"vocab": {}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "model.pth"), []byte("weights"), 0o600))

	cfg := config.Config{Model: config.ModelConfig{RootDir: root, UseDeepSpeed: true}}
	cfg.ApplyDefaults()

	return cfg.Model
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return testLogger
}

func TestLoader_LoadsOnceAndReusesHandle(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{}
	observer := &recordingObserver{}
	loader := model.NewLoader(writeModelDir(t), backend, newTestLogger(t), observer)

	assert.Equal(t, model.StateUnloaded, loader.State())
	assert.Nil(t, loader.ModelConfig())

	first, err := loader.EnsureLoaded(context.Background())
	require.NoError(t, err)

	for range 5 {
		again, loadErr := loader.EnsureLoaded(context.Background())
		require.NoError(t, loadErr)
		assert.Same(t, first, again)
	}

	assert.Equal(t, int32(1), backend.loads.Load())
	assert.Equal(t, 1, loader.LoadCount())
	assert.Equal(t, model.StateLoaded, loader.State())
	assert.Equal(t, []string{model.LoadResultSuccess}, observer.results)

	modelConfig := loader.ModelConfig()
	require.NotNil(t, modelConfig)
	assert.Equal(t, "xtts", modelConfig.Model)
	assert.Equal(t, 24000, modelConfig.Audio.OutputSampleRate)
}

func TestLoader_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{delay: 50 * time.Millisecond}
	loader := model.NewLoader(writeModelDir(t), backend, newTestLogger(t), nil)

	const callers = 16

	var (
		waitGroup sync.WaitGroup
		handles   [callers]core.Synthesizer
		errs      [callers]error
	)

	for i := range callers {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			handles[index], errs[index] = loader.EnsureLoaded(context.Background())
		}(i)
	}

	waitGroup.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}

	assert.Equal(t, int32(1), backend.loads.Load())
	assert.Equal(t, 1, loader.LoadCount())
}

func TestLoader_StateDuringLoad(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{delay: 300 * time.Millisecond}
	loader := model.NewLoader(writeModelDir(t), backend, newTestLogger(t), nil)

	done := make(chan error, 1)

	go func() {
		_, err := loader.EnsureLoaded(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return loader.State() == model.StateLoading
	}, time.Second, 5*time.Millisecond, "State must not wait for the running load")

	require.NoError(t, <-done)
	assert.Equal(t, model.StateLoaded, loader.State())
}

func TestLoader_PassesResolvedSpec(t *testing.T) {
	t.Parallel()

	modelCfg := writeModelDir(t)
	backend := &countingBackend{}
	loader := model.NewLoader(modelCfg, backend, newTestLogger(t), nil)

	_, err := loader.EnsureLoaded(context.Background())
	require.NoError(t, err)

	backend.mu.Lock()
	spec := backend.lastSpec
	backend.mu.Unlock()

	assert.Equal(t, filepath.Join(modelCfg.RootDir, "config.json"), spec.ConfigPath)
	assert.Equal(t, modelCfg.RootDir, spec.CheckpointDir)
	assert.Equal(t, filepath.Join(modelCfg.RootDir, "vocab.json"), spec.VocabPath)
	assert.Equal(t, "cuda", spec.Device)
	assert.True(t, spec.UseDeepSpeed)
	assert.True(t, spec.TOSAgreed)
	assert.Equal(t, "1", os.Getenv(model.TOSEnvVar))
}

func TestLoader_BackendFailureIsSticky(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{shouldFail: true}
	observer := &recordingObserver{}
	loader := model.NewLoader(writeModelDir(t), backend, newTestLogger(t), observer)

	_, err := loader.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelLoad)
	require.ErrorIs(t, err, errMockLoad)

	_, err = loader.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelLoad)

	assert.Equal(t, int32(1), backend.loads.Load(), "a failed load must not be retried")
	assert.Equal(t, model.StateFailed, loader.State())
	assert.Equal(t, []string{model.LoadResultFailure}, observer.results)
}

func TestLoader_MissingFiles(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		remove string
	}{
		{name: "config", remove: "config.json"},
		{name: "vocabulary", remove: "vocab.json"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			modelCfg := writeModelDir(t)
			require.NoError(t, os.Remove(filepath.Join(modelCfg.RootDir, testCase.remove)))

			backend := &countingBackend{}
			loader := model.NewLoader(modelCfg, backend, newTestLogger(t), nil)

			_, err := loader.EnsureLoaded(context.Background())
			require.ErrorIs(t, err, model.ErrModelLoad)
			require.ErrorIs(t, err, ttsutils.ErrModelNotFound)
			assert.Equal(t, int32(0), backend.loads.Load())
		})
	}
}

func TestLoader_CorruptConfig(t *testing.T) {
	t.Parallel()

	modelCfg := writeModelDir(t)
	require.NoError(t, os.WriteFile(modelCfg.ConfigPath, []byte("{not json"), 0o600))

	backend := &countingBackend{}
	loader := model.NewLoader(modelCfg, backend, newTestLogger(t), nil)

	_, err := loader.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelLoad)
	assert.Equal(t, int32(0), backend.loads.Load())
	assert.Equal(t, model.StateFailed, loader.State())
}

func TestLoader_SupportsLanguage(t *testing.T) {
	t.Parallel()

	loader := model.NewLoader(writeModelDir(t), &countingBackend{}, newTestLogger(t), nil)

	assert.True(t, loader.SupportsLanguage("xx"), "every language is accepted before load")

	_, err := loader.EnsureLoaded(context.Background())
	require.NoError(t, err)

	assert.True(t, loader.SupportsLanguage("ar"))
	assert.False(t, loader.SupportsLanguage("xx"))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unloaded", model.StateUnloaded.String())
	assert.Equal(t, "loading", model.StateLoading.String())
	assert.Equal(t, "loaded", model.StateLoaded.String())
	assert.Equal(t, "failed", model.StateFailed.String())
}
