package workbook

import (
	"sync"

	"ignite/api/internal/store"
)

// Resolver answers "what value should this field display right now". The
// precedence is the load-bearing invariant of the whole layer:
//
//  1. a dirty in-progress edit always wins, even over a fresher server value,
//     so a background refetch can never clobber keystrokes;
//  2. otherwise the optimistic cache, written the moment an edit or generated
//     value lands, before any durable commit;
//  3. otherwise the last-fetched durable value, or "".
type Resolver struct {
	mu         sync.Mutex
	tracker    *Tracker
	optimistic map[Key]string
	durable    map[Key]string
}

func NewResolver(tracker *Tracker) *Resolver {
	return &Resolver{
		tracker:    tracker,
		optimistic: make(map[Key]string),
		durable:    make(map[Key]string),
	}
}

func (r *Resolver) Resolve(key Key) string {
	if r.tracker.IsDirty(key) {
		value, _ := r.tracker.CurrentValue(key)
		return value
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if value, ok := r.optimistic[key]; ok {
		return value
	}
	return r.durable[key]
}

// SetOptimistic caches a value for display before its durable commit lands.
func (r *Resolver) SetOptimistic(key Key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.optimistic[key] = value
}

func (r *Resolver) DropOptimistic(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.optimistic, key)
}

// SetDurable records a single acknowledged durable value (post-save).
func (r *Resolver) SetDurable(key Key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durable[key] = value
}

// DurableValue returns the last-fetched durable value for key.
func (r *Resolver) DurableValue(key Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.durable[key]
	return value, ok
}

// LoadDurable replaces the durable snapshot for one (user, step, variant)
// scope with freshly fetched records. Entries outside the scope are untouched.
func (r *Resolver) LoadDurable(userID string, step, variant int, records []store.ResponseRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.durable {
		if key.UserID == userID && key.Step == step && key.Variant == variant {
			delete(r.durable, key)
		}
	}
	for _, record := range records {
		key := NewKey(record.UserID, record.Step, record.Variant, record.Section, record.Question)
		r.durable[key] = record.Text
	}
}
