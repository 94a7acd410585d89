package workbook

import (
	"context"
	"time"
)

// SessionConfig carries the tunables a session needs from the outer config.
type SessionConfig struct {
	MinContentLength   int
	CompletionDebounce time.Duration
	SaveSuccessWindow  time.Duration
	SaveErrorWindow    time.Duration
}

// Session bundles the per-user in-memory state: one tracker, resolver, save
// controller, completion engine, and debouncer, constructed together and torn
// down together. Nothing here outlives the user's session; the durable store
// is the only cross-session truth.
type Session struct {
	UserID     string
	Tracker    *Tracker
	Resolver   *Resolver
	Saver      *Saver
	Completion *Engine

	debounce *Debouncer
}

func NewSession(userID string, persister Persister, shadow ShadowCache, marker Marker, sections []SectionDef, cfg SessionConfig) *Session {
	tracker := NewTracker()
	resolver := NewResolver(tracker)
	return &Session{
		UserID:     userID,
		Tracker:    tracker,
		Resolver:   resolver,
		Saver:      NewSaver(tracker, resolver, persister, shadow, cfg.SaveSuccessWindow, cfg.SaveErrorWindow),
		Completion: NewEngine(userID, resolver, marker, sections, cfg.MinContentLength),
		debounce:   NewDebouncer(cfg.CompletionDebounce),
	}
}

// TrackChange records a keystroke-level edit and schedules the debounced
// completion check for the field's section. The check observes resolver state
// at fire time, not a snapshot captured here.
func (s *Session) TrackChange(key Key, current, original string) {
	s.Tracker.Track(key, current, original)
	step, variant, section := key.Step, key.Variant, key.Section
	s.debounce.Trigger(sectionDebounceKey(key), func() {
		_, _ = s.Completion.CheckAutoCompletion(context.Background(), step, variant, section)
	})
}

// FlushChecks runs any pending completion checks immediately.
func (s *Session) FlushChecks() {
	s.debounce.Flush()
}

// Close tears the session down: pending checks are cancelled and unsaved
// edits are discarded.
func (s *Session) Close() {
	s.debounce.Stop()
	s.Tracker.Reset()
}

func sectionDebounceKey(key Key) string {
	return NewKey(key.UserID, key.Step, key.Variant, key.Section, "").Slot()
}
