// Package model owns the process-wide TTS model handle. The handle is loaded
// lazily, at most once, and shared read-only by every request afterwards.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/audio"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

// TOSEnvVar signals acceptance of the model's terms of use to the runtime.
const (
	TOSEnvVar   = "COQUI_TOS_AGREED"
	tosAccepted = "1"
)

// Load results reported to the LoadObserver.
const (
	LoadResultSuccess = "success"
	LoadResultFailure = "failure"
)

const (
	logLoading          = "Loading EGTTS model from %s (device=%s, deepspeed=%t)"
	logLoaded           = "Model loaded successfully in %s (model=%s, languages=%d)"
	logLoadFailed       = "Model load failed after %s: %v"
	logSampleRateDiffer = "Checkpoint declares output sample rate %d Hz; audio is encoded at %d Hz"
	errFmtLoad          = "%w: %w"
)

// ErrModelLoad wraps every failure of the one-time model load. It is fatal:
// the loader never retries once it has been returned.
var ErrModelLoad = errors.New("model load failed")

// State is the lifecycle state of the model handle.
type State int

const (
	// StateUnloaded means no load has been attempted yet.
	StateUnloaded State = iota
	// StateLoading means the single load is in progress.
	StateLoading
	// StateLoaded means the handle is ready.
	StateLoaded
	// StateFailed means the single load attempt failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoadObserver receives the outcome of the model load.
type LoadObserver interface {
	ObserveModelLoad(result string, elapsed time.Duration)
}

// Loader lazily constructs the model exactly once.
type Loader struct {
	backend  core.ModelBackend
	cfg      config.ModelConfig
	log      *logger.Logger
	observer LoadObserver

	// state is read without mu so /health never waits on a running load.
	state atomic.Int32

	mu          sync.Mutex
	synthesizer core.Synthesizer
	modelConfig *XTTSConfig
	loadErr     error
	loadCount   int
}

// NewLoader creates a Loader. observer may be nil.
func NewLoader(
	cfg config.ModelConfig,
	backend core.ModelBackend,
	log *logger.Logger,
	observer LoadObserver,
) *Loader {
	return &Loader{
		backend:  backend,
		cfg:      cfg,
		log:      log,
		observer: observer,
	}
}

// EnsureLoaded returns the model handle, loading it on first use. Concurrent
// callers block until the single load completes. After a failed load every
// call returns the same ErrModelLoad without touching the backend again.
func (l *Loader) EnsureLoaded(ctx context.Context) (core.Synthesizer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateLoaded:
		return l.synthesizer, nil
	case StateFailed:
		return nil, l.loadErr
	case StateUnloaded, StateLoading:
	}

	l.loadCount++
	l.setState(StateLoading)
	start := time.Now()

	synthesizer, modelConfig, err := l.load(ctx)
	elapsed := time.Since(start)

	if err != nil {
		l.setState(StateFailed)
		l.loadErr = fmt.Errorf(errFmtLoad, ErrModelLoad, err)
		l.log.Error(logLoadFailed, ttsutils.FormatDuration(elapsed.Seconds()), err)
		l.observe(LoadResultFailure, elapsed)

		return nil, l.loadErr
	}

	l.synthesizer = synthesizer
	l.modelConfig = modelConfig
	l.setState(StateLoaded)
	l.log.Info(logLoaded, ttsutils.FormatDuration(elapsed.Seconds()), modelConfig.Model, len(modelConfig.Languages))
	l.observe(LoadResultSuccess, elapsed)

	return synthesizer, nil
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

func (l *Loader) setState(state State) {
	l.state.Store(int32(state))
}

// LoadCount returns how many load sequences have run. It never exceeds one.
func (l *Loader) LoadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loadCount
}

// ModelConfig returns the parsed checkpoint configuration, or nil before a
// successful load.
func (l *Loader) ModelConfig() *XTTSConfig {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.modelConfig
}

// SupportsLanguage reports whether the loaded checkpoint lists language.
// Before a successful load every language is accepted.
func (l *Loader) SupportsLanguage(language string) bool {
	return l.ModelConfig().SupportsLanguage(language)
}

func (l *Loader) load(ctx context.Context) (core.Synthesizer, *XTTSConfig, error) {
	err := acceptTermsOfUse()
	if err != nil {
		return nil, nil, err
	}

	spec, err := l.resolveSpec()
	if err != nil {
		return nil, nil, err
	}

	l.log.Info(logLoading, spec.CheckpointDir, spec.Device, spec.UseDeepSpeed)

	modelConfig, err := ReadXTTSConfig(spec.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	if rate := modelConfig.Audio.OutputSampleRate; rate != 0 && rate != audio.SAMPLE_RATE {
		l.log.Warn(logSampleRateDiffer, rate, audio.SAMPLE_RATE)
	}

	synthesizer, err := l.backend.Load(ctx, spec)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return synthesizer, modelConfig, nil
}

func (l *Loader) resolveSpec() (core.ModelSpec, error) {
	configPath, err := ttsutils.ResolveFile(l.cfg.ConfigPath)
	if err != nil {
		return core.ModelSpec{}, fmt.Errorf("model config: %w", err)
	}

	checkpointDir, err := ttsutils.ResolveDir(l.cfg.CheckpointDir)
	if err != nil {
		return core.ModelSpec{}, fmt.Errorf("checkpoint directory: %w", err)
	}

	vocabPath, err := ttsutils.ResolveFile(l.cfg.VocabPath)
	if err != nil {
		return core.ModelSpec{}, fmt.Errorf("vocabulary: %w", err)
	}

	return core.ModelSpec{
		ConfigPath:    configPath,
		CheckpointDir: checkpointDir,
		VocabPath:     vocabPath,
		Device:        l.cfg.Device,
		UseDeepSpeed:  l.cfg.UseDeepSpeed,
		TOSAgreed:     os.Getenv(TOSEnvVar) == tosAccepted,
	}, nil
}

func (l *Loader) observe(result string, elapsed time.Duration) {
	if l.observer != nil {
		l.observer.ObserveModelLoad(result, elapsed)
	}
}

// acceptTermsOfUse sets TOSEnvVar before anything touches the checkpoint.
func acceptTermsOfUse() error {
	err := os.Setenv(TOSEnvVar, tosAccepted)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", TOSEnvVar, err)
	}

	return nil
}
