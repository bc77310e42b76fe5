package resources

import (
	"context"
	"sync"

	"github.com/clinicware/anamnesis-platform/internal/signals"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Catalog is a read-through cache over the resource repository. Entries are
// served stale until a resumed-session signal or an explicit reload drops
// them; there is no subscription/invalidation protocol.
type Catalog struct {
	repo   Repository
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]Catalogue
}

func NewCatalog(repo Repository, logger *logging.Logger) *Catalog {
	if repo == nil {
		panic("resources: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{
		repo:   repo,
		logger: logger,
		cache:  make(map[string]Catalogue),
	}
}

// Get returns the clinic's catalogue, loading it on first use.
func (c *Catalog) Get(ctx context.Context, clinicID string) (Catalogue, error) {
	c.mu.RLock()
	cached, ok := c.cache[clinicID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	catalogue, err := c.repo.ListByClinic(ctx, clinicID)
	if err != nil {
		return Catalogue{}, err
	}

	c.mu.Lock()
	c.cache[clinicID] = catalogue
	c.mu.Unlock()
	return catalogue, nil
}

// Invalidate drops every cached catalogue. The next Get reloads from the
// repository.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]Catalogue)
	c.mu.Unlock()
}

// Watch subscribes to the signal bus and invalidates the cache whenever a
// session resumes — an opportunistic refresh, not a consistency guarantee.
// Blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, bus *signals.Bus) {
	events, cancel := bus.Subscribe("")
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if event.Kind != signals.KindResumed {
				continue
			}
			c.Invalidate()
			c.logger.Debug("resource catalogue invalidated on resumed session",
				"session_id", event.SessionID)
		}
	}
}
