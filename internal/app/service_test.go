package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ignite/api/internal/config"
	"ignite/api/internal/store"
	"ignite/api/internal/workbook"
)

type fakeStore struct {
	pingFn             func(ctx context.Context) error
	listResponsesFn    func(ctx context.Context, userID string, step, variant int) ([]store.ResponseRecord, error)
	getResponseFn      func(ctx context.Context, userID string, step, variant int, section, question string) (store.ResponseRecord, error)
	upsertResponseFn   func(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error)
	deleteResponseFn   func(ctx context.Context, userID string, step, variant int, section, question string) error
	markCompleteFn     func(ctx context.Context, mark store.CompletionMark) error
	unmarkCompleteFn   func(ctx context.Context, mark store.CompletionMark) error
	isMarkedCompleteFn func(ctx context.Context, mark store.CompletionMark) (bool, error)
	listCompletionsFn  func(ctx context.Context, userID string) ([]store.CompletionMark, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListResponses(ctx context.Context, userID string, step, variant int) ([]store.ResponseRecord, error) {
	if f.listResponsesFn != nil {
		return f.listResponsesFn(ctx, userID, step, variant)
	}
	return nil, nil
}

func (f *fakeStore) GetResponse(ctx context.Context, userID string, step, variant int, section, question string) (store.ResponseRecord, error) {
	if f.getResponseFn != nil {
		return f.getResponseFn(ctx, userID, step, variant, section, question)
	}
	return store.ResponseRecord{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteResponse(ctx context.Context, userID string, step, variant int, section, question string) error {
	if f.deleteResponseFn != nil {
		return f.deleteResponseFn(ctx, userID, step, variant, section, question)
	}
	return nil
}

func (f *fakeStore) IsMarkedComplete(ctx context.Context, mark store.CompletionMark) (bool, error) {
	if f.isMarkedCompleteFn != nil {
		return f.isMarkedCompleteFn(ctx, mark)
	}
	return false, nil
}

func (f *fakeStore) UpsertResponse(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error) {
	if f.upsertResponseFn != nil {
		return f.upsertResponseFn(ctx, record)
	}
	return record, nil
}

func (f *fakeStore) MarkComplete(ctx context.Context, mark store.CompletionMark) error {
	if f.markCompleteFn != nil {
		return f.markCompleteFn(ctx, mark)
	}
	return nil
}

func (f *fakeStore) UnmarkComplete(ctx context.Context, mark store.CompletionMark) error {
	if f.unmarkCompleteFn != nil {
		return f.unmarkCompleteFn(ctx, mark)
	}
	return nil
}

func (f *fakeStore) ListCompletions(ctx context.Context, userID string) ([]store.CompletionMark, error) {
	if f.listCompletionsFn != nil {
		return f.listCompletionsFn(ctx, userID)
	}
	return nil, nil
}

func testConfig() config.Config {
	return config.Config{
		MinContentLength:   25,
		CompletionDebounce: time.Millisecond,
		SaveSuccessWindow:  time.Second,
		SaveErrorWindow:    time.Second,
		SessionTTL:         time.Hour,
	}
}

func newTestService(fs *fakeStore) *Service {
	return New(testConfig(), fs, nil, nil, nil, nil)
}

func fieldKey(userID, section, question string) workbook.Key {
	return workbook.NewKey(userID, 4, 1, section, question)
}

func TestLoadResponsesHydratesSession(t *testing.T) {
	fs := &fakeStore{
		listResponsesFn: func(ctx context.Context, userID string, step, variant int) ([]store.ResponseRecord, error) {
			return []store.ResponseRecord{{
				ID: "resp_1", UserID: userID, Step: step, Variant: variant,
				Section: "Sales Strategy", Question: "sales-strategy-goal", Text: "grow annual recurring revenue",
			}}, nil
		},
	}
	service := newTestService(fs)

	records, err := service.LoadResponses(context.Background(), "user-1", 4, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	state := service.Resolve("user-1", fieldKey("user-1", "Sales Strategy", "sales-strategy-goal"))
	if state.Value != "grow annual recurring revenue" {
		t.Errorf("durable value not resolved: %q", state.Value)
	}
	if state.Dirty {
		t.Error("loaded value must not be dirty")
	}
}

func TestTrackThenSaveCommitsAndCleans(t *testing.T) {
	var saved []store.ResponseRecord
	fs := &fakeStore{
		upsertResponseFn: func(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error) {
			saved = append(saved, record)
			return record, nil
		},
	}
	service := newTestService(fs)
	key := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")

	state := service.TrackChange("user-1", key, "grow", "")
	if !state.Dirty || state.Value != "grow" {
		t.Fatalf("expected dirty edit, got %+v", state)
	}

	state, err := service.Save(context.Background(), "user-1", key)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(saved) != 1 || saved[0].Text != "grow" {
		t.Fatalf("unexpected writes: %+v", saved)
	}
	if state.Dirty {
		t.Error("save must clear the dirty flag")
	}
	if state.SaveState != workbook.SaveSuccess {
		t.Errorf("expected success affordance, got %s", state.SaveState)
	}
	if state.Value != "grow" {
		t.Errorf("durable tier should hold the committed value, got %q", state.Value)
	}
}

func TestSaveFailureKeepsEditForRetry(t *testing.T) {
	fail := true
	fs := &fakeStore{
		upsertResponseFn: func(ctx context.Context, record store.ResponseRecord) (store.ResponseRecord, error) {
			if fail {
				return store.ResponseRecord{}, errors.New("connection refused")
			}
			return record, nil
		},
	}
	service := newTestService(fs)
	key := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")
	service.TrackChange("user-1", key, "grow", "")

	state, err := service.Save(context.Background(), "user-1", key)
	if err == nil {
		t.Fatal("expected save error")
	}
	if !state.Dirty || state.Value != "grow" {
		t.Fatalf("failed save must preserve the edit, got %+v", state)
	}
	if state.SaveState != workbook.SaveError {
		t.Errorf("expected error affordance, got %s", state.SaveState)
	}

	fail = false
	state, err = service.Save(context.Background(), "user-1", key)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if state.Dirty {
		t.Error("retry should clear the edit")
	}
}

func TestMarkSectionsThenConfirmStep(t *testing.T) {
	marks := make(map[string]bool)
	fs := &fakeStore{
		markCompleteFn: func(ctx context.Context, mark store.CompletionMark) error {
			marks[mark.Section] = true
			return nil
		},
	}
	service := newTestService(fs)
	ctx := context.Background()

	if err := service.ConfirmStep(ctx, "user-1", 4, 1); !errors.Is(err, workbook.ErrStepIncomplete) {
		t.Fatalf("expected ErrStepIncomplete, got %v", err)
	}

	if err := service.MarkSection(ctx, "user-1", 4, 1, "Sales Strategy"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := service.MarkSection(ctx, "user-1", 4, 1, "Launch Plan"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := service.ConfirmStep(ctx, "user-1", 4, 1); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !marks[store.StepCompleteSection] {
		t.Error("confirm must record the step-confirm mark")
	}
}

func TestMarkUnknownSectionRejected(t *testing.T) {
	service := newTestService(&fakeStore{})
	err := service.MarkSection(context.Background(), "user-1", 4, 1, "Not A Section")
	if !errors.Is(err, workbook.ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
}

func TestEndSessionDiscardsUnsavedEdits(t *testing.T) {
	service := newTestService(&fakeStore{})
	key := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")

	service.TrackChange("user-1", key, "draft text", "")
	service.EndSession("user-1")

	state := service.Resolve("user-1", key)
	if state.Dirty || state.Value != "" {
		t.Errorf("new session should start clean, got %+v", state)
	}
}

func TestDeleteResponseClearsAllState(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		getResponseFn: func(ctx context.Context, userID string, step, variant int, section, question string) (store.ResponseRecord, error) {
			return store.ResponseRecord{ID: "resp_1", UserID: userID, Step: step, Variant: variant, Section: section, Question: question, Text: "old answer"}, nil
		},
		deleteResponseFn: func(ctx context.Context, userID string, step, variant int, section, question string) error {
			deleted = true
			return nil
		},
	}
	service := newTestService(fs)
	key := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")

	service.TrackChange("user-1", key, "half-typed edit", "old answer")
	if err := service.DeleteResponse(context.Background(), "user-1", key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("durable delete not issued")
	}

	state := service.Resolve("user-1", key)
	if state.Dirty || state.Value != "" {
		t.Errorf("deleted field should resolve empty and clean, got %+v", state)
	}
}

func TestDeleteAbsentResponseNotFound(t *testing.T) {
	service := newTestService(&fakeStore{})
	key := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")
	if err := service.DeleteResponse(context.Background(), "user-1", key); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUnsavedChangesAndDiscard(t *testing.T) {
	service := newTestService(&fakeStore{})
	goal := fieldKey("user-1", "Sales Strategy", "sales-strategy-goal")
	channels := fieldKey("user-1", "Sales Strategy", "sales-strategy-channels")

	service.TrackChange("user-1", goal, "new goal text", "old goal")
	service.TrackChange("user-1", channels, "webinars", "")

	changes := service.UnsavedChanges("user-1")
	if len(changes) != 2 {
		t.Fatalf("expected 2 unsaved changes, got %d", len(changes))
	}
	if changes[0].Question != "sales-strategy-channels" || changes[0].Value != "webinars" {
		t.Errorf("unexpected first change: %+v", changes[0])
	}
	if changes[1].Original != "old goal" {
		t.Errorf("original baseline missing: %+v", changes[1])
	}

	state := service.DiscardEdit("user-1", goal)
	if state.Dirty || state.Value != "" {
		t.Errorf("discarded field should fall back, got %+v", state)
	}
	if remaining := service.UnsavedChanges("user-1"); len(remaining) != 1 {
		t.Errorf("expected 1 unsaved change after discard, got %d", len(remaining))
	}
}

func TestSectionStatusFallsBackToDurableMarks(t *testing.T) {
	fs := &fakeStore{
		isMarkedCompleteFn: func(ctx context.Context, mark store.CompletionMark) (bool, error) {
			return mark.Section == "Sales Strategy", nil
		},
	}
	service := newTestService(fs)

	status, err := service.SectionStatus(context.Background(), "user-1", 4, 1, "Sales Strategy")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Marked {
		t.Error("cold session must report the durable mark")
	}

	status, err = service.SectionStatus(context.Background(), "user-1", 4, 1, "Launch Plan")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Marked {
		t.Error("unmarked section reported as marked")
	}
}

func TestMigrateWithoutCacheUnavailable(t *testing.T) {
	service := newTestService(&fakeStore{})
	_, err := service.MigrateLegacy(context.Background(), "user-1", 4)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("expected 503 domain error, got %v", err)
	}
}
