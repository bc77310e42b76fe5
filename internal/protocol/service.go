package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// queuePayload is the message body exchanged between the API and the worker.
type queuePayload struct {
	JobID    string `json:"job_id"`
	ClinicID string `json:"clinic_id"`
	RecordID string `json:"record_id"`
}

// Service accepts enrichment re-run requests, persists the job, and hands it
// to the queue for asynchronous processing.
type Service struct {
	queue  Queue
	jobs   JobStore
	repo   anamnesis.Repository
	logger *logging.Logger
}

func NewService(queue Queue, jobs JobStore, repo anamnesis.Repository, logger *logging.Logger) *Service {
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
	return &Service{queue: queue, jobs: jobs, repo: repo, logger: logger}
}

// EnqueueRerun schedules a fresh protocol generation for an existing record.
// The record must belong to the clinic; a previous enrichment, successful or
// not, does not block a re-run.
func (s *Service) EnqueueRerun(ctx context.Context, clinicID, recordID string) (*Job, error) {
	if _, err := s.repo.GetByID(ctx, clinicID, recordID); err != nil {
		return nil, err
	}

	job := &Job{
		JobID:    uuid.NewString(),
		ClinicID: clinicID,
		RecordID: recordID,
	}
	if err := s.jobs.PutPending(ctx, job); err != nil {
		return nil, err
	}

	body, err := json.Marshal(queuePayload{JobID: job.JobID, ClinicID: clinicID, RecordID: recordID})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal queue payload: %w", err)
	}
	if err := s.queue.Send(ctx, string(body)); err != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.JobID, "queue unavailable"); markErr != nil {
			s.logger.Error("failed to mark job after send failure", "job_id", job.JobID, "error", markErr.Error())
		}
		return nil, err
	}

	s.logger.Info("enrichment re-run enqueued", "job_id", job.JobID, "record_id", recordID, "clinic_id", clinicID)
	return job, nil
}

// JobStatus returns the current state of an enrichment job, scoped to the
// clinic that enqueued it.
func (s *Service) JobStatus(ctx context.Context, clinicID, jobID string) (*Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClinicID != clinicID {
		return nil, ErrJobNotFound
	}
	return job, nil
}
