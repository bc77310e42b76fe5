package archive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, io.EOF
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestArchiveAndFetchRecord(t *testing.T) {
	client := newFakeS3()
	store := NewStore(client, "anamnesis-archive", logging.New("error"))

	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	record := &anamnesis.Record{
		ID:             "rec-1",
		ClinicID:       "clinic-1",
		ProfessionalID: "prof-1",
		PatientName:    "Ana Silva",
		AssessmentType: "facial",
		MainComplaint:  "flacidez facial",
		CreatedAt:      created,
	}

	if err := store.ArchiveRecord(context.Background(), record); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var key string
	for k := range client.objects {
		key = k
	}
	if !strings.HasPrefix(key, "records/v1/clinic-1/2026/03/14/") {
		t.Fatalf("unexpected key layout: %s", key)
	}

	got, err := store.FetchRecord(context.Background(), "clinic-1", "rec-1", created)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.PatientName != "Ana Silva" || got.MainComplaint != "flacidez facial" {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestArchiveDisabledIsNoop(t *testing.T) {
	store := NewStore(nil, "", logging.New("error"))
	if store.Enabled() {
		t.Fatal("store without bucket must be disabled")
	}
	if err := store.ArchiveRecord(context.Background(), &anamnesis.Record{ID: "rec-1"}); err != nil {
		t.Fatalf("disabled archive must be a no-op, got %v", err)
	}
}
