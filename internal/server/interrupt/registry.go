// Package interrupt provides the process-wide registry of interrupt marks.
// The gRPC endpoint marks a hardware id when the client half-closes early or
// sends an explicit interrupt; the request pipeline consults the registry
// between yields and aborts when its hardware id is marked. Marks expire
// after a TTL so a stale mark cannot kill an unrelated later request.
package interrupt

import (
	"sync"
	"time"
)

// DefaultTTL is the lifetime of a mark when none is configured.
const DefaultTTL = 5 * time.Second

// Option configures a [Registry] during construction.
type Option func(*Registry)

// WithTTL sets the mark lifetime. Non-positive values keep [DefaultTTL].
func WithTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithClock replaces the time source. Tests use this to expire marks
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry maps hardware ids to interrupt marks. Read-mostly: every yield of
// every active request checks it, while marks are set only on user
// interrupts. All methods are safe for concurrent use.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	marks map[string]time.Time // hardware id → mark time
}

// NewRegistry returns an empty registry with [DefaultTTL].
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ttl:   DefaultTTL,
		now:   time.Now,
		marks: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Mark flags hardwareID as interrupted, starting the TTL now. Marking an
// already marked id restarts its TTL.
func (r *Registry) Mark(hardwareID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks[hardwareID] = r.now()
}

// IsMarked reports whether a non-expired mark exists for hardwareID.
// Expired marks are removed on the way out.
func (r *Registry) IsMarked(hardwareID string) bool {
	r.mu.RLock()
	marked, ok := r.marks[hardwareID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if r.now().Sub(marked) < r.ttl {
		return true
	}

	r.mu.Lock()
	// Re-check under the write lock; a fresh Mark may have raced the expiry.
	if m, ok := r.marks[hardwareID]; ok && r.now().Sub(m) >= r.ttl {
		delete(r.marks, hardwareID)
	}
	r.mu.Unlock()
	return false
}

// Clear removes any mark for hardwareID. Clearing an unmarked id is a no-op.
func (r *Registry) Clear(hardwareID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.marks, hardwareID)
}
