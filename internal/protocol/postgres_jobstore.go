package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxJobPool is the subset of pgxpool.Pool the job store needs.
type PgxJobPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresJobStore persists enrichment jobs in the enrichment_jobs table.
// Chosen over DynamoDB when the deployment already runs Postgres and wants a
// single datastore.
type PostgresJobStore struct {
	pool PgxJobPool
}

func NewPostgresJobStore(pool PgxJobPool) *PostgresJobStore {
	if pool == nil {
		panic("protocol: pgx pool required")
	}
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) PutPending(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("protocol: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt

	query := `
		INSERT INTO enrichment_jobs (id, clinic_id, record_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`
	if _, err := s.pool.Exec(ctx, query, job.JobID, job.ClinicID, job.RecordID, string(JobStatusPending)); err != nil {
		return fmt.Errorf("protocol: failed to persist job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) MarkCompleted(ctx context.Context, jobID, model string) error {
	if jobID == "" {
		return errors.New("protocol: jobID required")
	}
	query := `
		UPDATE enrichment_jobs
		SET status = $1, model = $2, error_message = '', updated_at = now()
		WHERE id = $3
	`
	tag, err := s.pool.Exec(ctx, query, string(JobStatusCompleted), model, jobID)
	if err != nil {
		return fmt.Errorf("protocol: failed to update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	if jobID == "" {
		return errors.New("protocol: jobID required")
	}
	query := `
		UPDATE enrichment_jobs
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3
	`
	tag, err := s.pool.Exec(ctx, query, string(JobStatusFailed), errMsg, jobID)
	if err != nil {
		return fmt.Errorf("protocol: failed to update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, errors.New("protocol: jobID required")
	}
	query := `
		SELECT id, clinic_id, record_id, status, COALESCE(model, ''), COALESCE(error_message, ''),
		       created_at, updated_at
		FROM enrichment_jobs
		WHERE id = $1
	`
	var job Job
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.JobID, &job.ClinicID, &job.RecordID, &job.Status,
		&job.Model, &job.ErrorMessage, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to fetch job: %w", err)
	}
	job.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	job.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &job, nil
}
