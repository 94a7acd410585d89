package workbook

import (
	"context"
	"strings"
	"sync"
	"testing"

	"ignite/api/internal/store"
)

type fakeMarker struct {
	mu       sync.Mutex
	marks    map[string]bool
	markErr  error
	markLog  []store.CompletionMark
	unmarked []store.CompletionMark
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marks: make(map[string]bool)}
}

func markID(mark store.CompletionMark) string {
	return NewKey(mark.UserID, mark.Step, mark.Variant, mark.Section, "").Slot()
}

func (f *fakeMarker) MarkComplete(ctx context.Context, mark store.CompletionMark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marks[markID(mark)] = true
	f.markLog = append(f.markLog, mark)
	return nil
}

func (f *fakeMarker) UnmarkComplete(ctx context.Context, mark store.CompletionMark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.marks, markID(mark))
	f.unmarked = append(f.unmarked, mark)
	return nil
}

func (f *fakeMarker) ListCompletions(ctx context.Context, userID string) ([]store.CompletionMark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.CompletionMark, 0, len(f.markLog))
	for _, mark := range f.markLog {
		if mark.UserID == userID && f.marks[markID(mark)] {
			items = append(items, mark)
		}
	}
	return items, nil
}

var testSections = []SectionDef{
	{Step: 4, Title: "Sales Strategy", Questions: []string{"sales-strategy-goal", "sales-strategy-channel"}},
	{Step: 4, Title: "Pricing", Questions: []string{"pricing-model"}},
}

func newTestEngine(marker Marker) (*Engine, *Tracker, *Resolver) {
	tracker := NewTracker()
	resolver := NewResolver(tracker)
	engine := NewEngine("user-1", resolver, marker, testSections, 25)
	return engine, tracker, resolver
}

func longAnswer(seed string) string {
	return seed + strings.Repeat(" detail", 5)
}

func TestAutoCompletionFiresExactlyOnce(t *testing.T) {
	marker := newFakeMarker()
	engine, _, resolver := newTestEngine(marker)
	ctx := context.Background()

	resolver.SetDurable(NewKey("user-1", 4, 1, "Sales Strategy", "sales-strategy-goal"), longAnswer("grow"))

	marked, err := engine.CheckAutoCompletion(ctx, 4, 1, "Sales Strategy")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if marked {
		t.Fatal("one of two questions answered; should not mark")
	}

	resolver.SetDurable(NewKey("user-1", 4, 1, "Sales Strategy", "sales-strategy-channel"), longAnswer("webinars"))

	marked, err = engine.CheckAutoCompletion(ctx, 4, 1, "Sales Strategy")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !marked {
		t.Fatal("threshold crossed on every question; should mark")
	}

	// Re-check while marked is a no-op.
	marked, err = engine.CheckAutoCompletion(ctx, 4, 1, "Sales Strategy")
	if err != nil {
		t.Fatalf("recheck failed: %v", err)
	}
	if marked {
		t.Error("second check should not mark again")
	}
	if len(marker.markLog) != 1 {
		t.Errorf("expected one durable mark, got %d", len(marker.markLog))
	}
}

func TestShrinkingTextDoesNotUnmark(t *testing.T) {
	marker := newFakeMarker()
	engine, _, resolver := newTestEngine(marker)
	ctx := context.Background()
	key := NewKey("user-1", 4, 1, "Pricing", "pricing-model")

	resolver.SetDurable(key, longAnswer("tiered pricing"))
	if marked, _ := engine.CheckAutoCompletion(ctx, 4, 1, "Pricing"); !marked {
		t.Fatal("expected auto-mark")
	}

	resolver.SetDurable(key, "short")
	if marked, _ := engine.CheckAutoCompletion(ctx, 4, 1, "Pricing"); marked {
		t.Error("check must not re-mark")
	}
	if !engine.IsMarked(4, 1, "Pricing") {
		t.Error("shrinking text must not unmark")
	}
}

func TestManualMarkAndUnmark(t *testing.T) {
	marker := newFakeMarker()
	engine, _, _ := newTestEngine(marker)
	ctx := context.Background()

	if err := engine.MarkComplete(ctx, 4, 1, "Pricing"); err != nil {
		t.Fatalf("manual mark below threshold should work: %v", err)
	}
	if !engine.IsMarked(4, 1, "Pricing") {
		t.Fatal("expected marked")
	}

	if err := engine.UnmarkComplete(ctx, 4, 1, "Pricing"); err != nil {
		t.Fatalf("unmark failed: %v", err)
	}
	if engine.IsMarked(4, 1, "Pricing") {
		t.Error("expected unmarked")
	}

	if err := engine.MarkComplete(ctx, 4, 1, "No Such Section"); err != ErrUnknownSection {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
}

func TestConfirmStepRequiresAllSections(t *testing.T) {
	marker := newFakeMarker()
	engine, _, _ := newTestEngine(marker)
	ctx := context.Background()

	if err := engine.ConfirmStep(ctx, 4, 1); err != ErrStepIncomplete {
		t.Fatalf("expected ErrStepIncomplete, got %v", err)
	}

	if err := engine.MarkComplete(ctx, 4, 1, "Sales Strategy"); err != nil {
		t.Fatal(err)
	}
	if err := engine.MarkComplete(ctx, 4, 1, "Pricing"); err != nil {
		t.Fatal(err)
	}

	// Every section marked, but the step is not confirmed until the user says so.
	if engine.IsMarked(4, 1, store.StepCompleteSection) {
		t.Fatal("step must not auto-confirm")
	}

	if err := engine.ConfirmStep(ctx, 4, 1); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !engine.IsMarked(4, 1, store.StepCompleteSection) {
		t.Error("expected step-confirm mark")
	}
}

func TestLoadMarksHydratesMemo(t *testing.T) {
	marker := newFakeMarker()
	_ = marker.MarkComplete(context.Background(), store.CompletionMark{UserID: "user-1", Step: 4, Variant: 1, Section: "Pricing"})

	engine, _, _ := newTestEngine(marker)
	if engine.IsMarked(4, 1, "Pricing") {
		t.Fatal("memo should start empty")
	}
	if err := engine.LoadMarks(context.Background()); err != nil {
		t.Fatalf("load marks: %v", err)
	}
	if !engine.IsMarked(4, 1, "Pricing") {
		t.Error("expected hydrated mark")
	}
}
