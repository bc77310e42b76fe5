package protocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

type stubGenerator struct {
	mu     sync.Mutex
	result Result
	err    error
	calls  int
	seen   []Request
}

func (g *stubGenerator) Generate(_ context.Context, req Request) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.seen = append(g.seen, req)
	if g.err != nil {
		return Result{}, g.err
	}
	return g.result, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *recordingNotifier) NotifyEnrichmentFailure(_ context.Context, _ *anamnesis.Record, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
	return nil
}

func seedRecord(t *testing.T, repo *anamnesis.InMemoryRepository) *anamnesis.Record {
	t.Helper()
	record, err := repo.Create(context.Background(), &anamnesis.CreateRecordRequest{
		ClinicID:       "clinic-1",
		ProfessionalID: "prof-1",
		PatientName:    "Ana Silva",
		PatientAge:     34,
		AssessmentType: "facial",
		MainComplaint:  "flacidez facial",
		Objective:      "firmeza",
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return record
}

func waitForJob(t *testing.T, jobs JobStore, jobID string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestWorkerCompletesJob(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	record := seedRecord(t, repo)

	queue := NewMemoryQueue(8)
	jobs := NewMemoryJobStore()
	generator := &stubGenerator{result: Result{Protocol: "Protocolo: radiofrequência 8 sessões", Model: "gemini-2.5-flash"}}
	service := NewService(queue, jobs, repo, logging.New("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(generator, queue, jobs, repo, logging.New("error"), WithWorkerCount(1))
	worker.Start(ctx)
	defer worker.Wait()

	job, err := service.EnqueueRerun(ctx, "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := waitForJob(t, jobs, job.JobID, JobStatusCompleted)
	if done.Model != "gemini-2.5-flash" {
		t.Fatalf("expected model on completed job, got %q", done.Model)
	}

	enriched, err := repo.GetByID(ctx, "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if enriched.AIProtocol == nil || !strings.Contains(*enriched.AIProtocol, "radiofrequência") {
		t.Fatalf("expected protocol patched onto record, got %v", enriched.AIProtocol)
	}
	if enriched.EnrichedAt == nil {
		t.Fatal("expected enriched_at set after patch")
	}

	cancel()
}

func TestWorkerMarksFailureAndNotifies(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	record := seedRecord(t, repo)

	queue := NewMemoryQueue(8)
	jobs := NewMemoryJobStore()
	generator := &stubGenerator{err: errors.New("provider unavailable")}
	notifier := &recordingNotifier{}
	service := NewService(queue, jobs, repo, logging.New("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(generator, queue, jobs, repo, logging.New("error"),
		WithWorkerCount(1),
		WithFailureNotifier(notifier),
	)
	worker.Start(ctx)
	defer worker.Wait()

	job, err := service.EnqueueRerun(ctx, "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failed := waitForJob(t, jobs, job.JobID, JobStatusFailed)
	if !strings.Contains(failed.ErrorMessage, "provider unavailable") {
		t.Fatalf("expected provider error on job, got %q", failed.ErrorMessage)
	}

	// The record itself must stay untouched.
	untouched, err := repo.GetByID(ctx, "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if untouched.AIProtocol != nil {
		t.Fatal("failed enrichment must not patch the record")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.reasons) != 1 {
		t.Fatalf("expected a single failure notification, got %d", len(notifier.reasons))
	}

	cancel()
}

func TestWorkerRetriesNothing(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	record := seedRecord(t, repo)

	queue := NewMemoryQueue(8)
	jobs := NewMemoryJobStore()
	generator := &stubGenerator{err: errors.New("boom")}
	service := NewService(queue, jobs, repo, logging.New("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(generator, queue, jobs, repo, logging.New("error"), WithWorkerCount(1))
	worker.Start(ctx)
	defer worker.Wait()

	job, err := service.EnqueueRerun(ctx, "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForJob(t, jobs, job.JobID, JobStatusFailed)

	// Give a retry loop, if one existed, time to show itself.
	time.Sleep(100 * time.Millisecond)
	generator.mu.Lock()
	calls := generator.calls
	generator.mu.Unlock()
	if calls != 1 {
		t.Fatalf("a failed job must not be retried, generator called %d times", calls)
	}

	cancel()
}

func TestEnqueueRejectsUnknownRecord(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	service := NewService(NewMemoryQueue(1), NewMemoryJobStore(), repo, logging.New("error"))

	if _, err := service.EnqueueRerun(context.Background(), "clinic-1", "missing"); !errors.Is(err, anamnesis.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestJobStatusScopedToClinic(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	record := seedRecord(t, repo)
	jobs := NewMemoryJobStore()
	service := NewService(NewMemoryQueue(4), jobs, repo, logging.New("error"))

	job, err := service.EnqueueRerun(context.Background(), "clinic-1", record.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := service.JobStatus(context.Background(), "clinic-other", job.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected cross-clinic lookup to fail, got %v", err)
	}
	got, err := service.JobStatus(context.Background(), "clinic-1", job.JobID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if got.RecordID != record.ID {
		t.Fatalf("unexpected job payload: %+v", got)
	}
}
