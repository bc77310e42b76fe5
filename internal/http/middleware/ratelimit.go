package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
)

const (
	// bucketIdleTTL is how long an untouched bucket survives before a sweep
	// reclaims it. Sessions reset after every submit, so idle buckets pile
	// up quickly without eviction.
	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = 5 * time.Minute
)

// BeaconThrottle caps how often one form session may report visibility
// beacons. Buckets refill continuously at rate tokens per second up to
// burst; an empty bucket rejects the beacon so a flapping tab cannot flood
// the signal tracker.
type BeaconThrottle struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	buckets   map[string]*beaconBucket
	lastSweep time.Time
}

type beaconBucket struct {
	tokens float64
	seen   time.Time
}

// NewBeaconThrottle creates a throttle allowing rate beacons/sec with the
// given burst per key.
func NewBeaconThrottle(rate float64, burst int) *BeaconThrottle {
	return &BeaconThrottle{
		rate:      rate,
		burst:     float64(burst),
		buckets:   make(map[string]*beaconBucket),
		lastSweep: time.Now(),
	}
}

// Allow reports whether one more beacon for key fits under the limit.
func (t *BeaconThrottle) Allow(key string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) >= sweepEvery {
		t.sweep(now)
	}

	b, ok := t.buckets[key]
	if !ok {
		b = &beaconBucket{tokens: t.burst}
		t.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * t.rate
		if b.tokens > t.burst {
			b.tokens = t.burst
		}
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle past the TTL. Runs piggybacked on Allow, so a
// quiet server holds no timers and no goroutines for this.
func (t *BeaconThrottle) sweep(now time.Time) {
	cutoff := now.Add(-bucketIdleTTL)
	for key, b := range t.buckets {
		if b.seen.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
	t.lastSweep = now
}

// RateLimit rejects beacons past the configured rate with 429. Buckets are
// scoped per professional and session, so one flapping tab cannot starve
// another session's beacons; requests without tenant context fall back to
// the caller's address.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	throttle := NewBeaconThrottle(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !throttle.Allow(throttleKey(r)) {
				http.Error(w, "too many beacons", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func throttleKey(r *http.Request) string {
	professionalID, ok := tenancy.ProfessionalIDFromContext(r.Context())
	if !ok {
		// Prefer X-Real-Ip set by chi's RealIP middleware.
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			return xri
		}
		return r.RemoteAddr
	}
	return professionalID + ":" + chi.URLParam(r, "sessionID")
}
