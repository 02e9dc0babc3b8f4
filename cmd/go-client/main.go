package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/handler"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/objectstore"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/audio"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions and messages.
const (
	flagTextDesc        = "Text to convert to speech"
	flagLanguageDesc    = "Language code (worker default when empty)"
	flagTemperatureDesc = "Sampling temperature (worker default when unset)"
	flagOutputDesc      = "Output file path (.wav)"
	flagTimeoutDesc     = "How long to wait for the worker's reply"
	flagHealthDesc      = "Check inference service health and exit"
)

// Flag names.
const (
	flagText        = "text"
	flagLanguage    = "language"
	flagTemperature = "temperature"
	flagOutput      = "output"
	flagTimeout     = "timeout"
	flagHealth      = "health"
)

// Error and log messages.
const (
	errTextRequired        = "--text must be provided unless --health is set"
	errNegativeTemperature = "--temperature must be non-negative"
	errTimeoutNotPositive  = "--timeout must be positive"
	errFailedToLoadConfig  = "Failed to load configuration: %v"
	errFailedToInitLogger  = "Failed to initialize logger: %v"
	errHealthCheckFailed   = "Health check failed: %v"
	errServiceNotHealthy   = "Inference service is not healthy: %v\n"
	msgServiceHealthy      = "Inference service is healthy"
	logSubmittingJob       = "Submitting job %s to %s"
	logFetchingAudio       = "Fetching %s from object store bucket %s"
	logGenerated           = "Generated: %s (%s, %d Hz)\n"
)

const (
	logFileName       = "egtts-client.log"
	defaultOutputFile = "output.wav"
	defaultTimeout    = 5 * time.Minute
	healthTimeout     = 10 * time.Second
	outputFileMode    = 0o644
)

var (
	// ErrJobFailed is returned when the worker replies with an error.
	ErrJobFailed = errors.New("job failed")
	// ErrNoAudio is returned when a successful reply carries no audio.
	ErrNoAudio = errors.New("reply carried no audio")
	// ErrNoAudioStore is returned when a reply names an audio_key but no
	// bucket is configured to fetch it from.
	ErrNoAudioStore = errors.New("reply carried audio_key but nats.audio_object_store_bucket is not set")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	temperature *float64
	text        string
	language    string
	output      string
	timeout     time.Duration
	health      bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	err = validateArguments(flags)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer clientLog.Close()

	cfg, err := config.Load(clientLog)
	if err != nil {
		return fmt.Errorf(errFailedToLoadConfig, err)
	}

	if flags.health {
		return handleHealthCheck(cfg, clientLog)
	}

	return handleSynthesis(cfg, clientLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var (
		flags       appFlags
		temperature float64
	)

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flagSet.Float64Var(&temperature, flagTemperature, config.DefaultTemperature, flagTemperatureDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == flagTemperature {
			flags.temperature = &temperature
		}
	})

	return flags, nil
}

// validateArguments checks required and conflicting arguments.
func validateArguments(flags appFlags) error {
	if flags.health {
		return nil
	}

	if flags.text == "" {
		return errors.New(errTextRequired)
	}

	if flags.temperature != nil && *flags.temperature < 0 {
		return errors.New(errNegativeTemperature)
	}

	if flags.timeout <= 0 {
		return errors.New(errTimeoutNotPositive)
	}

	return nil
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(cfg *config.Config, clientLog *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	client := tts.NewHTTPClient(cfg.Inference.ServiceURL, healthTimeout)

	err := client.HealthCheck(ctx)
	if err != nil {
		clientLog.Error(errHealthCheckFailed, err)
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleSynthesis submits one job and writes the returned audio.
func handleSynthesis(cfg *config.Config, clientLog *logger.Logger, flags appFlags) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("egtts-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	job := buildJob(flags)
	clientLog.Info(logSubmittingJob, job.ID, cfg.NATS.JobsSubject)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	result, err := submitJob(ctx, natsConnection, cfg.NATS.JobsSubject, job)
	if err != nil {
		return err
	}

	var store core.ObjectStore

	if result.Audio == "" && result.AudioKey != "" && cfg.NATS.AudioObjectStoreBucket != "" {
		bucket, openErr := objectstore.Open(natsConnection, cfg.NATS.AudioObjectStoreBucket)
		if openErr != nil {
			return fmt.Errorf("failed to open audio object store: %w", openErr)
		}

		clientLog.Info(logFetchingAudio, result.AudioKey, bucket.Bucket())
		store = bucket
	}

	wavData, err := fetchAudio(ctx, result, store)
	if err != nil {
		return err
	}

	info, err := writeAudio(wavData, flags.output)
	if err != nil {
		return err
	}

	fmt.Printf(logGenerated, flags.output, ttsutils.FormatDuration(info.Duration.Seconds()), info.SampleRate)

	return nil
}

func buildJob(flags appFlags) handler.Job {
	return handler.Job{
		ID: uuid.NewString(),
		Input: &handler.Input{
			Text:        flags.text,
			Language:    flags.language,
			Temperature: flags.temperature,
		},
	}
}

// submitJob sends job to subject and decodes the worker's reply.
func submitJob(ctx context.Context, natsConnection *nats.Conn, subject string, job handler.Job) (handler.Result, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to marshal job: %w", err)
	}

	reply, err := natsConnection.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to submit job %s: %w", job.ID, err)
	}

	var result handler.Result

	err = json.Unmarshal(reply.Data, &result)
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to decode reply: %w", err)
	}

	if result.Failed() {
		return result, fmt.Errorf("%w: %s", ErrJobFailed, result.Error)
	}

	return result, nil
}

// fetchAudio returns the WAV bytes of result. Inline audio is decoded from
// base64; a reply that only names an audio_key is downloaded from store.
func fetchAudio(ctx context.Context, result handler.Result, store core.ObjectStore) ([]byte, error) {
	if result.Audio != "" {
		wavData, err := base64.StdEncoding.DecodeString(result.Audio)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio: %w", err)
		}

		return wavData, nil
	}

	if result.AudioKey == "" {
		return nil, ErrNoAudio
	}

	if store == nil {
		return nil, ErrNoAudioStore
	}

	wavData, err := store.Download(ctx, result.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio %s: %w", result.AudioKey, err)
	}

	return wavData, nil
}

// writeAudio checks the WAV header of wavData and writes it to path.
func writeAudio(wavData []byte, path string) (audio.Info, error) {
	info, err := audio.Inspect(wavData)
	if err != nil {
		return audio.Info{}, err
	}

	dir := filepath.Dir(path)

	err = ttsutils.EnsureDir(dir)
	if err != nil {
		return audio.Info{}, err
	}

	err = os.WriteFile(path, wavData, outputFileMode)
	if err != nil {
		return audio.Info{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return info, nil
}
