// Package archive exports completed anamnesis records to object storage for
// clinic back-office retention. It sits outside the submission path; exports
// are triggered explicitly and never block record visibility.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives anamnesis records to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func recordKey(clinicID, recordID string, at time.Time) string {
	return fmt.Sprintf("records/v1/%s/%d/%02d/%02d/%s.json",
		clinicID, at.Year(), at.Month(), at.Day(), recordID)
}

// ArchiveRecord writes a record as JSON to S3, keyed by clinic and date.
func (s *Store) ArchiveRecord(ctx context.Context, record *anamnesis.Record) error {
	if !s.Enabled() {
		return nil
	}
	if record == nil {
		return fmt.Errorf("archive: record cannot be nil")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := recordKey(record.ClinicID, record.ID, record.CreatedAt.UTC())
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archived record to S3",
		"record_id", record.ID,
		"clinic_id", record.ClinicID,
		"s3_key", key,
	)
	return nil
}

// FetchRecord reads a previously archived record back.
func (s *Store) FetchRecord(ctx context.Context, clinicID, recordID string, createdAt time.Time) (*anamnesis.Record, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("archive: not configured")
	}

	key := recordKey(clinicID, recordID, createdAt.UTC())
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", key, err)
	}

	var record anamnesis.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return &record, nil
}
