package resources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicware/anamnesis-platform/internal/signals"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

type countingRepo struct {
	mu    sync.Mutex
	inner *InMemoryRepository
	calls int
}

func (r *countingRepo) ListByClinic(ctx context.Context, clinicID string) (Catalogue, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.ListByClinic(ctx, clinicID)
}

func (r *countingRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seedRepo() *InMemoryRepository {
	repo := NewInMemoryRepository()
	repo.Add(Resource{ID: "eq-1", ClinicID: "clinic-1", Kind: KindEquipment, Name: "LED", Active: true})
	repo.Add(Resource{ID: "cos-1", ClinicID: "clinic-1", Kind: KindCosmetic, Name: "Sérum vitamina C", Active: true})
	repo.Add(Resource{ID: "inj-1", ClinicID: "clinic-1", Kind: KindInjectable, Name: "Toxina", Active: false})
	return repo
}

func TestCatalogServesFromCache(t *testing.T) {
	repo := &countingRepo{inner: seedRepo()}
	catalog := NewCatalog(repo, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		catalogue, err := catalog.Get(ctx, "clinic-1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if len(catalogue.Equipment) != 1 || len(catalogue.Cosmetics) != 1 {
			t.Fatalf("unexpected catalogue: %+v", catalogue)
		}
		if len(catalogue.Injectables) != 0 {
			t.Fatal("inactive resources must be filtered out")
		}
	}
	if repo.callCount() != 1 {
		t.Fatalf("expected one repository load, got %d", repo.callCount())
	}
}

func TestCatalogInvalidatedOnResumedSignal(t *testing.T) {
	repo := &countingRepo{inner: seedRepo()}
	catalog := NewCatalog(repo, logging.New("error"))
	bus := signals.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go catalog.Watch(ctx, bus)

	// Wait for the watcher subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := catalog.Get(ctx, "clinic-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	bus.Publish(signals.Event{Kind: signals.KindResumed, SessionID: "sess-1", At: time.Now()})

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := catalog.Get(ctx, "clinic-1"); err != nil {
			t.Fatalf("get: %v", err)
		}
		if repo.callCount() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("resumed signal never invalidated the catalogue")
}

func TestCatalogSuspendedSignalKeepsCache(t *testing.T) {
	repo := &countingRepo{inner: seedRepo()}
	catalog := NewCatalog(repo, logging.New("error"))
	bus := signals.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go catalog.Watch(ctx, bus)

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := catalog.Get(ctx, "clinic-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	bus.Publish(signals.Event{Kind: signals.KindSuspended, SessionID: "sess-1", At: time.Now()})
	time.Sleep(50 * time.Millisecond)

	if _, err := catalog.Get(ctx, "clinic-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if repo.callCount() != 1 {
		t.Fatalf("suspend must not invalidate, repo hit %d times", repo.callCount())
	}
}

func TestCreateInvalidatesCatalogue(t *testing.T) {
	repo := seedRepo()
	catalog := NewCatalog(repo, logging.New("error"))
	handler := NewHandler(catalog, repo, logging.New("error"))
	ctx := context.Background()

	before, err := catalog.Get(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(before.Equipment) != 1 {
		t.Fatalf("expected one equipment item, got %d", len(before.Equipment))
	}

	req := httptest.NewRequest(http.MethodPost, "/resources", strings.NewReader(`{"kind":"equipment","name":"Radiofrequência"}`))
	req = req.WithContext(tenancy.WithClinicID(req.Context(), "clinic-1"))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}

	after, err := catalog.Get(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("get after create: %v", err)
	}
	if len(after.Equipment) != 2 {
		t.Fatalf("expected the new item on the next read, got %d equipment items", len(after.Equipment))
	}
}
