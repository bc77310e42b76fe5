package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

const (
	defaultWorkerCount = 2
	defaultWaitSeconds = 10
	defaultBatchSize   = 5
)

// FailureNotifier is told when an enrichment job fails terminally, so the
// clinic can be alerted. Optional.
type FailureNotifier interface {
	NotifyEnrichmentFailure(ctx context.Context, record *anamnesis.Record, reason string) error
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	notifier         FailureNotifier
	observer         func(status JobStatus, elapsed time.Duration)
}

// WorkerOption customizes the enrichment worker.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of consumer goroutines.
func WithWorkerCount(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithFailureNotifier wires an alert channel for failed jobs.
func WithFailureNotifier(n FailureNotifier) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.notifier = n
	}
}

// WithJobObserver registers a callback invoked after each terminal job state,
// used to feed metrics.
func WithJobObserver(fn func(status JobStatus, elapsed time.Duration)) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.observer = fn
	}
}

// Worker consumes enrichment jobs from the queue, generates protocols, and
// patches the owning record.
type Worker struct {
	generator Generator
	queue     Queue
	jobs      JobStore
	repo      anamnesis.Repository
	notifier  FailureNotifier
	observer  func(status JobStatus, elapsed time.Duration)
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

func NewWorker(generator Generator, queue Queue, jobs JobStore, repo anamnesis.Repository, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if generator == nil {
		panic("protocol: generator cannot be nil")
	}
	if queue == nil {
		panic("protocol: queue cannot be nil")
	}
	if jobs == nil {
		panic("protocol: job store cannot be nil")
	}
	if repo == nil {
		panic("protocol: record repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		generator: generator,
		queue:     queue,
		jobs:      jobs,
		repo:      repo,
		notifier:  cfg.notifier,
		observer:  cfg.observer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("enrichment worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("enrichment worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive enrichment jobs", "error", err.Error(), "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	started := time.Now()

	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("discarding malformed enrichment job", "message_id", msg.ID, "error", err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	record, err := w.repo.GetByID(ctx, payload.ClinicID, payload.RecordID)
	if err != nil {
		w.failJob(ctx, payload.JobID, nil, "record not found: "+err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		w.observe(JobStatusFailed, started)
		return
	}

	result, err := w.generator.Generate(ctx, requestFromRecord(record))
	if err != nil {
		w.failJob(ctx, payload.JobID, record, err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		w.observe(JobStatusFailed, started)
		return
	}

	if _, err := w.repo.PatchEnrichment(ctx, payload.ClinicID, payload.RecordID, anamnesis.EnrichmentPatch{
		Protocol: result.Protocol,
		Model:    result.Model,
	}); err != nil {
		w.failJob(ctx, payload.JobID, record, "patch failed: "+err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		w.observe(JobStatusFailed, started)
		return
	}

	if err := w.jobs.MarkCompleted(ctx, payload.JobID, result.Model); err != nil {
		w.logger.Error("failed to mark enrichment job completed", "job_id", payload.JobID, "error", err.Error())
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
	w.observe(JobStatusCompleted, started)
	w.logger.Info("enrichment job completed",
		"job_id", payload.JobID,
		"record_id", payload.RecordID,
		"model", result.Model,
	)
}

func (w *Worker) failJob(ctx context.Context, jobID string, record *anamnesis.Record, reason string) {
	w.logger.Warn("enrichment job failed", "job_id", jobID, "reason", reason)
	if err := w.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		w.logger.Error("failed to mark enrichment job failed", "job_id", jobID, "error", err.Error())
	}
	if w.notifier != nil && record != nil {
		if err := w.notifier.NotifyEnrichmentFailure(ctx, record, reason); err != nil {
			w.logger.Warn("enrichment failure notification failed", "job_id", jobID, "error", err.Error())
		}
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Warn("failed to delete queue message", "error", err.Error())
	}
}

func (w *Worker) observe(status JobStatus, started time.Time) {
	if w.observer != nil {
		w.observer(status, time.Since(started))
	}
}

func requestFromRecord(record *anamnesis.Record) Request {
	return Request{
		AssessmentType: record.AssessmentType,
		PatientName:    record.PatientName,
		PatientAge:     record.PatientAge,
		MainComplaint:  record.MainComplaint,
		Objective:      record.Objective,
		Observations:   record.Observations,
		Sections:       record.Sections,
	}
}
