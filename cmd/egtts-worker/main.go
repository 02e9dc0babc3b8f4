// main package for the egtts-worker
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/handler"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/metrics"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/model"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/objectstore"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/worker"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	bootstrapLogFile = "egtts-worker-bootstrap.log"
	serviceLogFile   = "egtts-worker.log"
	shutdownTimeout  = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	// 1. Optional .env file; the environment wins when both are set.
	envErr := godotenv.Load()

	// 2. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to read .env file: %v", envErr)
	}

	// 3. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 4. Initialize the final logger based on the loaded configuration
	err = ttsutils.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create log directory: %v", err)

		return fmt.Errorf("failed to create log directory: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the worker together and blocks until ctx is done or a fatal error occurs.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()

	workerMetrics, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("egtts-worker"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	store, err := openStore(natsConnection, cfg.NATS, log)
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.Inference.TimeoutSeconds) * time.Second
	backend := tts.NewHTTPClient(cfg.Inference.ServiceURL, timeout)

	healthErr := backend.HealthCheck(ctx)
	if healthErr != nil {
		log.Warn("Inference service not reachable yet: %v", healthErr)
	}

	loader := model.NewLoader(cfg.Model, backend, log, workerMetrics)

	if cfg.Metrics.ListenAddr != "" {
		metricsServer := metrics.NewServer(
			cfg.Metrics.ListenAddr,
			metrics.NewHandler(registry, func() string { return loader.State().String() }, log),
		)

		go serveMetrics(metricsServer, log)
		defer shutdownMetrics(metricsServer, log)
	}

	if cfg.Model.Preload {
		_, err = loader.EnsureLoaded(ctx)
		if err != nil {
			return fmt.Errorf("failed to preload model: %w", err)
		}
	}

	jobHandler := handler.New(loader, cfg.Inference, log, workerMetrics)

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS, jobHandler, store, workerMetrics, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("EGTTS worker initialized. Listening for jobs on subject: %s", cfg.NATS.JobsSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("EGTTS worker stopped.")

	return nil
}

// openStore binds the audio bucket when one is configured. A nil store
// disables archiving.
func openStore(natsConnection *nats.Conn, cfg config.NATSConfig, log *logger.Logger) (core.ObjectStore, error) {
	if cfg.AudioObjectStoreBucket == "" {
		return nil, nil
	}

	store, err := objectstore.Open(natsConnection, cfg.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio object store: %w", err)
	}

	log.Info("Archiving audio in object store bucket %s", store.Bucket())

	return store, nil
}

func serveMetrics(server *http.Server, log *logger.Logger) {
	log.Info("Serving metrics and health on %s", server.Addr)

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server failed: %v", err)
	}
}

func shutdownMetrics(server *http.Server, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		log.Warn("Failed to shut down metrics server: %v", err)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
