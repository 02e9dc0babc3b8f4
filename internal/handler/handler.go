// Package handler turns a synthesis job into a base64 WAV result.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/audio"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/text"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

// MsgNoText is returned verbatim when a job carries no text.
const MsgNoText = "No text provided"

const (
	errFmtUnsupportedLanguage = "unsupported language: %s"
	errFmtModelPanic          = "model panic: %v"
	logJobDone                = "Job %s synthesized %s of audio (%s WAV, %d chars, language=%s) in %s"
	logJobFailed              = "Job %s failed (%s): %s"
)

// ErrNoWaveform is reported when the model returns no samples.
var ErrNoWaveform = errors.New("model returned an empty waveform")

// ModelProvider hands out the shared model, loading it on first use.
type ModelProvider interface {
	EnsureLoaded(ctx context.Context) (core.Synthesizer, error)
	SupportsLanguage(language string) bool
}

// Observer receives timing for successful syntheses.
type Observer interface {
	ObserveInference(elapsed time.Duration)
	ObserveAudio(length time.Duration)
}

// Handler synthesizes speech for jobs.
type Handler struct {
	models       ModelProvider
	preprocessor *text.Preprocessor
	log          *logger.Logger
	observer     Observer
	language     string
	temperature  float64
}

// New creates a Handler. Defaults for language and temperature come from cfg;
// observer may be nil.
func New(models ModelProvider, cfg config.InferenceConfig, log *logger.Logger, observer Observer) *Handler {
	language := cfg.DefaultLanguage
	if language == "" {
		language = config.DefaultLanguage
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = config.DefaultTemperature
	}

	return &Handler{
		models:       models,
		preprocessor: text.NewPreprocessor(),
		log:          log,
		observer:     observer,
		language:     language,
		temperature:  temperature,
	}
}

// Handle runs one job. Per-request failures are reported in the Result; the
// returned error is non-nil only when the model could not be loaded, which
// the caller must treat as fatal.
func (h *Handler) Handle(ctx context.Context, job Job) (Result, error) {
	input := Input{}
	if job.Input != nil {
		input = *job.Input
	}

	language := input.Language
	if language == "" {
		language = h.language
	}

	temperature := h.temperature
	if input.Temperature != nil {
		temperature = *input.Temperature
	}

	prepared := h.preprocessor.PreprocessText(input.Text)
	if strings.TrimSpace(prepared) == "" {
		return h.fail(job.ID, failure(KindValidation, MsgNoText)), nil
	}

	synthesizer, err := h.models.EnsureLoaded(ctx)
	if err != nil {
		return Result{}, err
	}

	if !h.models.SupportsLanguage(language) {
		return h.fail(job.ID, failure(KindValidation, fmt.Sprintf(errFmtUnsupportedLanguage, language))), nil
	}

	start := time.Now()

	samples, result := h.synthesize(ctx, synthesizer, core.InferenceRequest{
		Text:        prepared,
		Language:    language,
		Temperature: temperature,
	})
	if result.Failed() {
		return h.fail(job.ID, result), nil
	}

	elapsed := time.Since(start)

	wavData, err := audio.EncodeWAV(samples, audio.SAMPLE_RATE)
	if err != nil {
		return h.fail(job.ID, failure(KindEncoding, err.Error())), nil
	}

	length := audio.Duration(len(samples), audio.SAMPLE_RATE)
	h.observe(elapsed, length)
	h.log.Info(
		logJobDone,
		job.ID,
		ttsutils.FormatDuration(length.Seconds()),
		ttsutils.FormatFileSize(int64(len(wavData))),
		len([]rune(input.Text)),
		language,
		elapsed.Round(time.Millisecond),
	)

	return Result{
		WAV:        wavData,
		Audio:      audio.EncodeBase64(wavData),
		SampleRate: audio.SAMPLE_RATE,
		Text:       input.Text,
	}, nil
}

// synthesize computes default-voice conditioning and runs inference. A panic
// inside the model is reported as a model_runtime failure.
func (h *Handler) synthesize(
	ctx context.Context,
	synthesizer core.Synthesizer,
	req core.InferenceRequest,
) (samples []float32, result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			samples = nil
			result = failure(KindModelRuntime, fmt.Sprintf(errFmtModelPanic, recovered))
		}
	}()

	conditioning, err := synthesizer.ConditioningLatents(ctx, "")
	if err != nil {
		return nil, failure(KindModelRuntime, err.Error())
	}

	req.Conditioning = conditioning

	samples, err = synthesizer.Inference(ctx, req)
	if err != nil {
		return nil, failure(KindModelRuntime, err.Error())
	}

	if len(samples) == 0 {
		return nil, failure(KindModelRuntime, ErrNoWaveform.Error())
	}

	return samples, Result{}
}

func (h *Handler) fail(jobID string, result Result) Result {
	h.log.Warn(logJobFailed, jobID, result.Kind, result.Error)

	return result
}

func (h *Handler) observe(elapsed, length time.Duration) {
	if h.observer != nil {
		h.observer.ObserveInference(elapsed)
		h.observer.ObserveAudio(length)
	}
}
