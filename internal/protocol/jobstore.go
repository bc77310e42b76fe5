package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

const jobTTL = 24 * time.Hour

// JobStatus represents the lifecycle of an enrichment job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("protocol: job not found")

// Job captures the persisted state of an enrichment request.
type Job struct {
	JobID        string    `dynamodbav:"jobId" json:"job_id"`
	ClinicID     string    `dynamodbav:"clinicId" json:"clinic_id"`
	RecordID     string    `dynamodbav:"recordId" json:"record_id"`
	Status       JobStatus `dynamodbav:"status" json:"status"`
	Model        string    `dynamodbav:"model,omitempty" json:"model,omitempty"`
	ErrorMessage string    `dynamodbav:"errorMessage,omitempty" json:"error_message,omitempty"`
	CreatedAt    string    `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt    string    `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt    int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists enrichment job state so clients can poll for the outcome.
type JobStore interface {
	PutPending(ctx context.Context, job *Job) error
	MarkCompleted(ctx context.Context, jobID, model string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoJobStore persists jobs to DynamoDB with a TTL attribute.
type DynamoJobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDynamoJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoJobStore {
	if client == nil {
		panic("protocol: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("protocol: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.New("info")
	}
	return &DynamoJobStore{client: client, tableName: tableName, logger: logger}
}

// PutPending inserts a new pending job record.
func (s *DynamoJobStore) PutPending(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("protocol: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("protocol: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("protocol: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted records the model that produced the protocol.
func (s *DynamoJobStore) MarkCompleted(ctx context.Context, jobID, model string) error {
	if jobID == "" {
		return errors.New("protocol: jobID required")
	}
	return s.updateJob(ctx, jobID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
			":model":   &types.AttributeValueMemberS{Value: model},
			":error":   &types.AttributeValueMemberS{Value: ""},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#model":   "model",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #model = :model, #error = :error, #updated = :updated",
	)
}

// MarkFailed updates a job to the failed state.
func (s *DynamoJobStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	if jobID == "" {
		return errors.New("protocol: jobID required")
	}
	return s.updateJob(ctx, jobID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #error = :error, #updated = :updated",
	)
}

// GetJob fetches a job by ID.
func (s *DynamoJobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, errors.New("protocol: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("protocol: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *DynamoJobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue, names map[string]string, expression string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("protocol: failed to update job %s: %w", jobID, err)
	}
	return nil
}

// MemoryJobStore keeps jobs in a map. Used in tests and single-process
// deployments alongside MemoryQueue.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) PutPending(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("protocol: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("protocol: job %s already exists", job.JobID)
	}
	clone := *job
	s.jobs[job.JobID] = &clone
	return nil
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, jobID, model string) error {
	return s.update(jobID, func(job *Job) {
		job.Status = JobStatusCompleted
		job.Model = model
		job.ErrorMessage = ""
	})
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, jobID, errMsg string) error {
	return s.update(jobID, func(job *Job) {
		job.Status = JobStatusFailed
		job.ErrorMessage = errMsg
	})
}

func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryJobStore) update(jobID string, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	apply(job)
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}
