// Package worker binds the job handler to NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/config"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/handler"
	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/tts/ttsutils"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	audioKeyExtension     = ".wav"
	audioKeySuffixLen     = 8
	logJobFailedReply     = "Job %s cannot be delivered inline: %s"
	errFmtInvalidPayload  = "invalid job payload: %v"
	errFmtReplyTooLarge   = "audio reply of %d bytes exceeds the NATS max payload of %d bytes; configure nats.audio_object_store_bucket"
	logAudioOutOfLine     = "Reply for job %s is %d bytes (max %d), sending audio_key only"
	logJobReceived        = "Received job %s on %s"
	logJobReplied         = "Replied to job %s in %s"
	logUploadFailed       = "Failed to archive audio for job %s: %v"
	logEventFailed        = "Failed to publish audio event for job %s: %v"
	logReplyFailed        = "Failed to reply to job %s: %v"
	logFatal              = "Fatal error while handling job %s: %v"
	logWorkerListening    = "Worker listening on %s (queue group %q)"
	logWorkerShuttingDown = "Worker shutting down, draining subscription"
)

var (
	// ErrSubjectEmpty indicates that no jobs subject was configured.
	ErrSubjectEmpty = errors.New("jobs subject cannot be empty")
	// ErrNilHandler indicates that the worker was built without a job handler.
	ErrNilHandler = errors.New("job handler cannot be nil")
)

// JobHandler runs one job. A non-nil error is fatal for the worker.
type JobHandler interface {
	Handle(ctx context.Context, job handler.Job) (handler.Result, error)
}

// JobObserver counts finished jobs.
type JobObserver interface {
	ObserveJob(kind string)
	ObserveFatal()
}

// NatsWorker listens for synthesis jobs on a NATS subject and replies with results.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            config.NATSConfig
	handler        JobHandler
	store          core.ObjectStore
	observer       JobObserver
	log            *logger.Logger

	fatalOnce sync.Once
	fatal     chan error
}

// NewNatsWorker creates a new instance of a NATS worker. store and observer
// may be nil; without a store audio is only returned inline.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg config.NATSConfig,
	jobHandler JobHandler,
	store core.ObjectStore,
	observer JobObserver,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.JobsSubject == "" {
		return nil, ErrSubjectEmpty
	}

	if jobHandler == nil {
		return nil, ErrNilHandler
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		handler:        jobHandler,
		store:          store,
		observer:       observer,
		log:            log,
		fatal:          make(chan error, 1),
	}, nil
}

// Run subscribes to the jobs subject and blocks until ctx is done or a job
// hits a fatal error. It drains the subscription before returning, and
// returns the fatal error if there was one.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.cfg.JobsSubject, w.cfg.JobsQueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.JobsSubject, err)
	}

	w.log.Info(logWorkerListening, w.cfg.JobsSubject, w.cfg.JobsQueueGroup)

	var fatalErr error

	select {
	case <-ctx.Done():
	case fatalErr = <-w.fatal:
	}

	w.log.Info(logWorkerShuttingDown)

	drainErr := sub.Drain()
	if drainErr != nil {
		return errors.Join(fatalErr, fmt.Errorf("failed to drain subscription: %w", drainErr))
	}

	return fatalErr
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	start := time.Now()

	job, err := parseJob(msg.Data)
	if err != nil {
		w.log.Warn("Rejected job on %s: %v", msg.Subject, err)
		w.observeJob(handler.KindValidation)
		w.reply(msg, "", handler.Result{Error: fmt.Sprintf(errFmtInvalidPayload, err), Kind: handler.KindValidation})

		return
	}

	w.log.Info(logJobReceived, job.ID, msg.Subject)

	// Inference is never cancelled once started; the drain waits for it.
	result, err := w.handler.Handle(context.Background(), job)
	if err != nil {
		w.log.Error(logFatal, job.ID, err)
		w.reply(msg, job.ID, handler.Result{Error: err.Error()})

		if w.observer != nil {
			w.observer.ObserveFatal()
		}

		w.fatalOnce.Do(func() { w.fatal <- err })

		return
	}

	if !result.Failed() {
		w.archive(job.ID, &result)
		result = w.fitPayload(job.ID, result)
	}

	w.observeJob(result.Kind)
	w.reply(msg, job.ID, result)
	w.log.Info(logJobReplied, job.ID, time.Since(start).Round(time.Millisecond))
}

// archive uploads the WAV to the object store and announces it. Failures are
// logged and leave the inline audio in place.
func (w *NatsWorker) archive(jobID string, result *handler.Result) {
	if w.store == nil {
		return
	}

	ctx := context.Background()
	audioKey := audioKeyFor(jobID)

	err := w.store.Upload(ctx, audioKey, result.WAV)
	if err != nil {
		w.log.Error(logUploadFailed, jobID, err)

		return
	}

	result.AudioKey = audioKey

	if w.cfg.AudioCreatedSubject == "" {
		return
	}

	err = w.publishAudioCreated(jobID, audioKey)
	if err != nil {
		w.log.Error(logEventFailed, jobID, err)
	}
}

// fitPayload makes result fit in one NATS message. An archived clip is sent
// by audio_key only; a clip that is neither small enough nor archived
// becomes an error so the caller still gets a reply.
func (w *NatsWorker) fitPayload(jobID string, result handler.Result) handler.Result {
	limit := w.natsConnection.MaxPayload()

	data, err := json.Marshal(result)
	if err != nil || int64(len(data)) <= limit {
		return result
	}

	if result.AudioKey != "" {
		w.log.Info(logAudioOutOfLine, jobID, len(data), limit)

		return result.WithoutInlineAudio()
	}

	tooLarge := handler.Result{
		Error: fmt.Sprintf(errFmtReplyTooLarge, len(data), limit),
		Kind:  handler.KindEncoding,
	}
	w.log.Error(logJobFailedReply, jobID, tooLarge.Error)

	return tooLarge
}

// audioKeyFor derives the object name for a job. Ids that sanitizing
// changes get a suffix derived from the raw id, so "job 7" and "job_7"
// never share an object.
func audioKeyFor(jobID string) string {
	key := ttsutils.SanitizeFilename(jobID)
	if key != jobID {
		key += "-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID)).String()[:audioKeySuffixLen]
	}

	return key + audioKeyExtension
}

// publishAudioCreated marshals and publishes an AudioChunkCreatedEvent.
func (w *NatsWorker) publishAudioCreated(jobID, audioKey string) error {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: jobID,
			EventID:    uuid.NewString(),
		},
		AudioKey:   audioKey,
		PageNumber: 1,
		TotalPages: 1,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio event: %w", err)
	}

	err = w.natsConnection.Publish(w.cfg.AudioCreatedSubject, data)
	if err != nil {
		return fmt.Errorf("failed to publish audio event: %w", err)
	}

	return nil
}

func (w *NatsWorker) reply(msg *nats.Msg, jobID string, result handler.Result) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error(logReplyFailed, jobID, err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error(logReplyFailed, jobID, err)
	}
}

func (w *NatsWorker) observeJob(kind handler.Kind) {
	if w.observer != nil {
		w.observer.ObserveJob(string(kind))
	}
}

func parseJob(data []byte) (handler.Job, error) {
	var job handler.Job

	err := json.Unmarshal(data, &job)
	if err != nil {
		return handler.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	return job, nil
}
