package workbook

import (
	"context"
	"sync"
	"time"

	"ignite/api/internal/store"
	"ignite/api/internal/util"
)

type SaveState string

const (
	SaveIdle    SaveState = "idle"
	SaveSaving  SaveState = "saving"
	SaveSuccess SaveState = "success"
	SaveError   SaveState = "error"
)

// Persister commits one field value to the durable store. The write must be
// an upsert by key: committing the same value twice yields the same record.
type Persister interface {
	UpsertResponse(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error)
}

// ShadowCache deletes the legacy-cache shadow of a key once its durable copy
// is acknowledged.
type ShadowCache interface {
	DeleteShadow(ctx context.Context, key Key) error
}

type saveOutcome struct {
	state SaveState
	at    time.Time
}

// Saver is the manual-commit save controller: a per-key finite state machine
// idle → saving → {success|error} → idle. Saves are triggered only by an
// explicit user action, at most one in flight per key; saves for different
// keys are independent.
type Saver struct {
	tracker  *Tracker
	resolver *Resolver
	store    Persister
	shadow   ShadowCache // may be nil

	successWindow time.Duration
	errorWindow   time.Duration
	now           func() time.Time

	// OnSaved runs after each acknowledged write (search indexing etc.).
	OnSaved func(key Key, record store.ResponseRecord)

	mu       sync.Mutex
	inflight map[Key]bool
	outcomes map[Key]saveOutcome
}

func NewSaver(tracker *Tracker, resolver *Resolver, persister Persister, shadow ShadowCache, successWindow, errorWindow time.Duration) *Saver {
	return &Saver{
		tracker:       tracker,
		resolver:      resolver,
		store:         persister,
		shadow:        shadow,
		successWindow: successWindow,
		errorWindow:   errorWindow,
		now:           time.Now,
		inflight:      make(map[Key]bool),
		outcomes:      make(map[Key]saveOutcome),
	}
}

// Save commits the currently resolved value for key. A second trigger while a
// save for the same key is in flight is a no-op. On failure the dirty state is
// left untouched so the edit survives for retry; the same trigger retries.
func (s *Saver) Save(ctx context.Context, key Key) error {
	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		return nil
	}
	s.inflight[key] = true
	delete(s.outcomes, key)
	s.mu.Unlock()

	value := s.resolver.Resolve(key)
	record := store.ResponseRecord{
		ID:       util.NewID("resp"),
		UserID:   key.UserID,
		Step:     key.Step,
		Variant:  key.Variant,
		Section:  key.Section,
		Question: key.Question,
		Text:     value,
	}

	saved, err := s.store.UpsertResponse(ctx, record)

	s.mu.Lock()
	delete(s.inflight, key)
	if err != nil {
		s.outcomes[key] = saveOutcome{state: SaveError, at: s.now()}
		s.mu.Unlock()
		return err
	}
	s.outcomes[key] = saveOutcome{state: SaveSuccess, at: s.now()}
	s.mu.Unlock()

	// Durable truth first, then re-baseline the edit buffer: the resolver
	// never observes a gap where the field would fall back to a stale value,
	// and keystrokes typed while the write was in flight stay dirty instead
	// of being clobbered by the acknowledgement.
	s.resolver.SetDurable(key, saved.Text)
	s.resolver.DropOptimistic(key)
	s.tracker.Rebase(key, saved.Text)

	if s.shadow != nil {
		_ = s.shadow.DeleteShadow(ctx, key)
	}
	if s.OnSaved != nil {
		s.OnSaved(key, saved)
	}
	return nil
}

// State reports the current affordance for key. Success and error indicators
// expire by timestamp after their display windows; no background timers run.
func (s *Saver) State(key Key) SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return SaveSaving
	}
	outcome, ok := s.outcomes[key]
	if !ok {
		return SaveIdle
	}
	window := s.successWindow
	if outcome.state == SaveError {
		window = s.errorWindow
	}
	if s.now().Sub(outcome.at) < window {
		return outcome.state
	}
	delete(s.outcomes, key)
	return SaveIdle
}
