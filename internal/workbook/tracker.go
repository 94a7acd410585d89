package workbook

import "sync"

type change struct {
	original string
	current  string
}

// Tracker remembers, per key, the last-known-durable value and the user's
// in-progress edit. Pure in-memory bookkeeping: it never fails and is lost
// with the session, which is fine — unsaved work is, by design, unsaved.
type Tracker struct {
	mu      sync.Mutex
	changes map[Key]change
}

func NewTracker() *Tracker {
	return &Tracker{changes: make(map[Key]change)}
}

// Track records or updates the change for key. The original baseline is set on
// first call and kept on every later call, so dirtiness is always computed
// against the last durable write rather than the previous keystroke.
func (t *Tracker) Track(key Key, current, original string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.changes[key]; ok {
		existing.current = current
		t.changes[key] = existing
		return
	}
	t.changes[key] = change{original: original, current: current}
}

func (t *Tracker) IsDirty(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[key]
	return ok && c.current != c.original
}

// CurrentValue returns the live edit buffer for key, if any.
func (t *Tracker) CurrentValue(key Key) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[key]
	if !ok {
		return "", false
	}
	return c.current, true
}

func (t *Tracker) OriginalValue(key Key) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[key]
	if !ok {
		return "", false
	}
	return c.original, true
}

// Clear drops the tracked change for key, discarding any unsaved edit.
func (t *Tracker) Clear(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.changes, key)
}

// Rebase re-baselines key against a freshly saved value. If the edit buffer
// still equals saved, the entry is dropped. If the user kept typing while the
// save was in flight, the newer edit stays tracked, now dirty against the
// saved baseline, so it is never reverted by the save acknowledgement.
func (t *Tracker) Rebase(key Key, saved string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[key]
	if !ok {
		return
	}
	if c.current == saved {
		delete(t.changes, key)
		return
	}
	c.original = saved
	t.changes[key] = c
}

// DirtyKeys lists every key whose current value diverges from its baseline.
func (t *Tracker) DirtyKeys() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]Key, 0, len(t.changes))
	for key, c := range t.changes {
		if c.current != c.original {
			keys = append(keys, key)
		}
	}
	return keys
}

// Reset drops all tracked changes (session teardown).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = make(map[Key]change)
}
