// Package app composes the workbook, legacy migration, transcript, and search
// services behind one HTTP surface, and owns the per-user session registry.
package app

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"ignite/api/internal/config"
	"ignite/api/internal/legacy"
	"ignite/api/internal/search"
	"ignite/api/internal/store"
	"ignite/api/internal/transcripts"
	"ignite/api/internal/workbook"
)

// dataStore is the durable-store surface the app layer uses. It doubles as
// workbook.Persister and workbook.Marker.
type dataStore interface {
	Ping(ctx context.Context) error
	ListResponses(ctx context.Context, userID string, step, variant int) ([]store.ResponseRecord, error)
	GetResponse(ctx context.Context, userID string, step, variant int, section, question string) (store.ResponseRecord, error)
	UpsertResponse(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error)
	DeleteResponse(ctx context.Context, userID string, step, variant int, section, question string) error
	MarkComplete(ctx context.Context, mark store.CompletionMark) error
	UnmarkComplete(ctx context.Context, mark store.CompletionMark) error
	IsMarkedComplete(ctx context.Context, mark store.CompletionMark) (bool, error)
	ListCompletions(ctx context.Context, userID string) ([]store.CompletionMark, error)
}

type sessionRecord struct {
	session   *workbook.Session
	expiresAt time.Time
}

type Service struct {
	cfg         config.Config
	store       dataStore
	legacyCache *legacy.Cache        // may be nil
	migrator    *legacy.Migrator     // may be nil
	transcripts *transcripts.Service // may be nil
	search      *search.Service      // may be nil

	sessionTTL time.Duration
	sessMu     sync.Mutex
	sessions   map[string]sessionRecord
}

func New(cfg config.Config, dataStore dataStore, legacyCache *legacy.Cache, migrator *legacy.Migrator, transcriptSvc *transcripts.Service, searchSvc *search.Service) *Service {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		legacyCache: legacyCache,
		migrator:    migrator,
		transcripts: transcriptSvc,
		search:      searchSvc,
		sessionTTL:  ttl,
		sessions:    make(map[string]sessionRecord),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// session returns the user's live workbook session, creating one on first
// touch. Expired sessions are swept on every lookup; touching a session
// extends its lease.
func (s *Service) session(userID string) *workbook.Session {
	now := time.Now()
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	for id, record := range s.sessions {
		if now.After(record.expiresAt) {
			record.session.Close()
			delete(s.sessions, id)
		}
	}

	if record, ok := s.sessions[userID]; ok {
		record.expiresAt = now.Add(s.sessionTTL)
		s.sessions[userID] = record
		return record.session
	}

	sess := workbook.NewSession(userID, s.store, s.shadowCache(), s.store, Sections(), workbook.SessionConfig{
		MinContentLength:   s.cfg.MinContentLength,
		CompletionDebounce: s.cfg.CompletionDebounce,
		SaveSuccessWindow:  s.cfg.SaveSuccessWindow,
		SaveErrorWindow:    s.cfg.SaveErrorWindow,
	})
	sess.Saver.OnSaved = func(key workbook.Key, record store.ResponseRecord) {
		s.indexResponse(record)
	}
	s.sessions[userID] = sessionRecord{session: sess, expiresAt: now.Add(s.sessionTTL)}
	return sess
}

// shadowCache adapts the optional legacy cache to the saver's interface
// without handing it a typed-nil pointer.
func (s *Service) shadowCache() workbook.ShadowCache {
	if s.legacyCache == nil {
		return nil
	}
	return s.legacyCache
}

func (s *Service) indexResponse(record store.ResponseRecord) {
	if s.search == nil {
		return
	}
	s.search.IndexResponse(search.ResponseDoc{
		ID:        record.ID,
		UserID:    record.UserID,
		Step:      record.Step,
		Variant:   record.Variant,
		Section:   record.Section,
		Question:  record.Question,
		Text:      record.Text,
		UpdatedAt: record.UpdatedAt,
	})
}

// EndSession tears down the user's in-memory state. Unsaved edits are gone;
// the durable store is untouched.
func (s *Service) EndSession(userID string) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if record, ok := s.sessions[userID]; ok {
		record.session.Close()
		delete(s.sessions, userID)
	}
}

// LoadResponses hydrates the session's durable tier for one (step, variant)
// scope and refreshes the completion-mark memo, then returns the saved rows.
func (s *Service) LoadResponses(ctx context.Context, userID string, step, variant int) ([]store.ResponseRecord, error) {
	records, err := s.store.ListResponses(ctx, userID, step, variant)
	if err != nil {
		return nil, err
	}
	sess := s.session(userID)
	sess.Resolver.LoadDurable(userID, step, variant, records)
	if err := sess.Completion.LoadMarks(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// FieldState is the resolved view of one workbook field.
type FieldState struct {
	Value     string             `json:"value"`
	Dirty     bool               `json:"dirty"`
	SaveState workbook.SaveState `json:"saveState"`
}

// TrackChange records a keystroke-level edit. The completion check it
// schedules is debounced inside the session.
func (s *Service) TrackChange(userID string, key workbook.Key, current, original string) FieldState {
	sess := s.session(userID)
	sess.TrackChange(key, current, original)
	return s.fieldState(sess, key)
}

// StageOptimistic records a value the client shows as saved before the
// durable write is confirmed. It loses to dirty edits and is dropped once the
// durable copy lands.
func (s *Service) StageOptimistic(userID string, key workbook.Key, value string) FieldState {
	sess := s.session(userID)
	sess.Resolver.SetOptimistic(key, value)
	return s.fieldState(sess, key)
}

// Resolve reports the display value for one field.
func (s *Service) Resolve(userID string, key workbook.Key) FieldState {
	return s.fieldState(s.session(userID), key)
}

func (s *Service) fieldState(sess *workbook.Session, key workbook.Key) FieldState {
	return FieldState{
		Value:     sess.Resolver.Resolve(key),
		Dirty:     sess.Tracker.IsDirty(key),
		SaveState: sess.Saver.State(key),
	}
}

// Save commits the field's resolved value. A repeated trigger while the save
// is in flight is absorbed; a failed save leaves the edit dirty for retry.
func (s *Service) Save(ctx context.Context, userID string, key workbook.Key) (FieldState, error) {
	sess := s.session(userID)
	err := sess.Saver.Save(ctx, key)
	return s.fieldState(sess, key), err
}

// SectionStatus reports progress for one section.
type SectionStatus struct {
	Step     int    `json:"step"`
	Variant  int    `json:"variant"`
	Section  string `json:"section"`
	Answered int    `json:"answered"`
	Total    int    `json:"total"`
	Marked   bool   `json:"marked"`
}

func (s *Service) SectionStatus(ctx context.Context, userID string, step, variant int, section string) (SectionStatus, error) {
	sess := s.session(userID)
	answered, total, err := sess.Completion.ResponseCount(step, variant, section)
	if err != nil {
		return SectionStatus{}, err
	}
	// The session memo is cold until the marks are hydrated; fall back to the
	// durable store so a fresh session never under-reports completion.
	marked := sess.Completion.IsMarked(step, variant, section)
	if !marked {
		marked, err = s.store.IsMarkedComplete(ctx, store.CompletionMark{
			UserID:  userID,
			Step:    step,
			Variant: variant,
			Section: section,
		})
		if err != nil {
			return SectionStatus{}, err
		}
	}
	return SectionStatus{
		Step:     step,
		Variant:  variant,
		Section:  section,
		Answered: answered,
		Total:    total,
		Marked:   marked,
	}, nil
}

// DeleteResponse removes one saved answer everywhere: durable row, search
// index, session edit state, and the legacy shadow.
func (s *Service) DeleteResponse(ctx context.Context, userID string, key workbook.Key) error {
	record, err := s.store.GetResponse(ctx, userID, key.Step, key.Variant, key.Section, key.Question)
	if err != nil {
		return err
	}
	if err := s.store.DeleteResponse(ctx, userID, key.Step, key.Variant, key.Section, key.Question); err != nil {
		return err
	}

	sess := s.session(userID)
	sess.Tracker.Clear(key)
	sess.Resolver.DropOptimistic(key)
	sess.Resolver.SetDurable(key, "")

	if s.search != nil {
		s.search.DeleteResponse(record.ID)
	}
	if s.legacyCache != nil {
		if err := s.legacyCache.DeleteShadow(ctx, key); err != nil {
			log.Printf("app: retire legacy shadow after delete: %v", err)
		}
	}
	return nil
}

// UnsavedChange reports one dirty field awaiting a save.
type UnsavedChange struct {
	Step     int    `json:"step"`
	Variant  int    `json:"variant"`
	Section  string `json:"section"`
	Question string `json:"question"`
	Value    string `json:"value"`
	Original string `json:"original"`
}

// UnsavedChanges lists the session's dirty fields, for "you have unsaved
// work" surfaces.
func (s *Service) UnsavedChanges(userID string) []UnsavedChange {
	sess := s.session(userID)
	keys := sess.Tracker.DirtyKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Slot() < keys[j].Slot() })

	changes := make([]UnsavedChange, 0, len(keys))
	for _, key := range keys {
		value, _ := sess.Tracker.CurrentValue(key)
		original, _ := sess.Tracker.OriginalValue(key)
		changes = append(changes, UnsavedChange{
			Step:     key.Step,
			Variant:  key.Variant,
			Section:  key.Section,
			Question: key.Question,
			Value:    value,
			Original: original,
		})
	}
	return changes
}

// DiscardEdit drops one field's unsaved edit; the field falls back to its
// optimistic or durable value.
func (s *Service) DiscardEdit(userID string, key workbook.Key) FieldState {
	sess := s.session(userID)
	sess.Tracker.Clear(key)
	return s.fieldState(sess, key)
}

// CheckSection runs the completion check immediately, bypassing the debounce.
// Returns whether a mark was newly created.
func (s *Service) CheckSection(ctx context.Context, userID string, step, variant int, section string) (bool, error) {
	return s.session(userID).Completion.CheckAutoCompletion(ctx, step, variant, section)
}

func (s *Service) MarkSection(ctx context.Context, userID string, step, variant int, section string) error {
	return s.session(userID).Completion.MarkComplete(ctx, step, variant, section)
}

func (s *Service) UnmarkSection(ctx context.Context, userID string, step, variant int, section string) error {
	return s.session(userID).Completion.UnmarkComplete(ctx, step, variant, section)
}

func (s *Service) Completions(ctx context.Context, userID string) ([]store.CompletionMark, error) {
	return s.store.ListCompletions(ctx, userID)
}

// ConfirmStep records the user's explicit final confirmation of a step. Every
// section of the step must already carry a mark.
func (s *Service) ConfirmStep(ctx context.Context, userID string, step, variant int) error {
	return s.session(userID).Completion.ConfirmStep(ctx, step, variant)
}

func (s *Service) StepComplete(userID string, step, variant int) bool {
	return s.session(userID).Completion.StepComplete(step, variant)
}

// MigrateLegacy drains the user's legacy cache entries for one step into the
// durable store. After a non-empty migration the session's durable tier is
// rehydrated and the search index refreshed.
func (s *Service) MigrateLegacy(ctx context.Context, userID string, step int) (int, error) {
	if s.migrator == nil {
		return 0, domainError(http.StatusServiceUnavailable, "MIGRATION_UNAVAILABLE", "Legacy cache not configured", nil)
	}
	migrated, err := s.migrator.Migrate(ctx, userID, step)
	if err != nil {
		return migrated, err
	}
	if migrated > 0 {
		if _, err := s.LoadResponses(ctx, userID, step, 1); err != nil {
			log.Printf("app: rehydrate after migration: %v", err)
		}
		if s.search != nil {
			go s.search.ReindexAllFromPG(context.Background())
		}
	}
	return migrated, nil
}

func (s *Service) transcriptSvc() (*transcripts.Service, error) {
	if s.transcripts == nil {
		return nil, domainError(http.StatusServiceUnavailable, "TRANSCRIPTS_UNAVAILABLE", "Transcript processing not configured", nil)
	}
	return s.transcripts, nil
}

func (s *Service) ListTranscripts(ctx context.Context, userID string) ([]store.Transcript, error) {
	svc, err := s.transcriptSvc()
	if err != nil {
		return nil, err
	}
	return svc.List(ctx, userID)
}

// ownedTranscript loads one transcript and hides other users' rows behind a
// generic not-found.
func (s *Service) ownedTranscript(ctx context.Context, userID, id string) (store.Transcript, error) {
	svc, err := s.transcriptSvc()
	if err != nil {
		return store.Transcript{}, err
	}
	item, err := svc.Get(ctx, id)
	if err != nil {
		return store.Transcript{}, err
	}
	if item.UserID != userID {
		return store.Transcript{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return item, nil
}

func (s *Service) GetTranscript(ctx context.Context, userID, id string) (store.Transcript, error) {
	return s.ownedTranscript(ctx, userID, id)
}

func (s *Service) CreateTranscript(ctx context.Context, userID, title, content string) (store.Transcript, error) {
	svc, err := s.transcriptSvc()
	if err != nil {
		return store.Transcript{}, err
	}
	return svc.Create(ctx, userID, title, content)
}

func (s *Service) UpdateTranscript(ctx context.Context, userID, id, title, content string) (store.Transcript, error) {
	if _, err := s.ownedTranscript(ctx, userID, id); err != nil {
		return store.Transcript{}, err
	}
	return s.transcripts.UpdateContent(ctx, id, title, content)
}

func (s *Service) ProcessTranscript(ctx context.Context, userID, id string) (store.Transcript, error) {
	if _, err := s.ownedTranscript(ctx, userID, id); err != nil {
		return store.Transcript{}, err
	}
	return s.transcripts.Process(ctx, id)
}

func (s *Service) DeleteTranscript(ctx context.Context, userID, id string) error {
	if _, err := s.ownedTranscript(ctx, userID, id); err != nil {
		return err
	}
	return s.transcripts.Delete(ctx, id)
}

// TranscriptArtifact returns the raw stored text of one transcript.
func (s *Service) TranscriptArtifact(ctx context.Context, userID, id string) (string, error) {
	if _, err := s.ownedTranscript(ctx, userID, id); err != nil {
		return "", err
	}
	return s.transcripts.Artifact(ctx, id)
}

// Search queries the user's saved responses.
func (s *Service) Search(userID, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{UserID: userID, Text: text, Limit: limit, Offset: offset})
}
