package workbook

import (
	"context"
	"errors"
	"strings"
	"sync"

	"ignite/api/internal/store"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrStepIncomplete = errors.New("step has unmarked sections")
)

// SectionDef lists the ordered question keys that make up one section of a
// workflow step.
type SectionDef struct {
	Step      int
	Title     string
	Questions []string
}

// Marker is the durable store surface for completion marks.
type Marker interface {
	MarkComplete(ctx context.Context, mark store.CompletionMark) error
	UnmarkComplete(ctx context.Context, mark store.CompletionMark) error
	ListCompletions(ctx context.Context, userID string) ([]store.CompletionMark, error)
}

type sectionRef struct {
	step  int
	title string
}

type markRef struct {
	step    int
	variant int
	section string
}

// Engine derives section completion from resolved values. A section
// auto-completes when every question's resolved value meets the minimum
// content bar; the auto-mark fires exactly once, and shrinking text afterwards
// never unmarks. Scoped to one user session.
type Engine struct {
	userID    string
	resolver  *Resolver
	marker    Marker
	minLength int

	mu       sync.Mutex
	sections map[sectionRef]SectionDef
	marked   map[markRef]bool
}

func NewEngine(userID string, resolver *Resolver, marker Marker, sections []SectionDef, minLength int) *Engine {
	byRef := make(map[sectionRef]SectionDef, len(sections))
	for _, def := range sections {
		byRef[sectionRef{step: def.Step, title: def.Title}] = def
	}
	return &Engine{
		userID:    userID,
		resolver:  resolver,
		marker:    marker,
		minLength: minLength,
		sections:  byRef,
		marked:    make(map[markRef]bool),
	}
}

// LoadMarks hydrates the mark memo from the durable store.
func (e *Engine) LoadMarks(ctx context.Context) error {
	marks, err := e.marker.ListCompletions(ctx, e.userID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marked = make(map[markRef]bool, len(marks))
	for _, mark := range marks {
		e.marked[markRef{step: mark.Step, variant: mark.Variant, section: mark.Section}] = true
	}
	return nil
}

func (e *Engine) section(step int, title string) (SectionDef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.sections[sectionRef{step: step, title: title}]
	return def, ok
}

// ResponseCount reports how many of the section's questions currently resolve
// to a value meeting the minimum-content bar, and the section's total.
func (e *Engine) ResponseCount(step, variant int, title string) (int, int, error) {
	def, ok := e.section(step, title)
	if !ok {
		return 0, 0, ErrUnknownSection
	}
	count := 0
	for _, question := range def.Questions {
		key := NewKey(e.userID, step, variant, title, question)
		if len(strings.TrimSpace(e.resolver.Resolve(key))) >= e.minLength {
			count++
		}
	}
	return count, len(def.Questions), nil
}

// IsMarked reports the memoized mark state for a section.
func (e *Engine) IsMarked(step, variant int, title string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marked[markRef{step: step, variant: variant, section: title}]
}

// CheckAutoCompletion recomputes the section's response count and creates the
// completion mark if every question meets the bar and the section is not
// already marked. Returns whether a mark was newly created.
func (e *Engine) CheckAutoCompletion(ctx context.Context, step, variant int, title string) (bool, error) {
	if e.IsMarked(step, variant, title) {
		return false, nil
	}
	count, total, err := e.ResponseCount(step, variant, title)
	if err != nil {
		return false, err
	}
	if total == 0 || count != total {
		return false, nil
	}
	return true, e.mark(ctx, step, variant, title)
}

// MarkComplete marks a section by explicit user action, regardless of the
// content threshold.
func (e *Engine) MarkComplete(ctx context.Context, step, variant int, title string) error {
	if _, ok := e.section(step, title); !ok {
		return ErrUnknownSection
	}
	return e.mark(ctx, step, variant, title)
}

func (e *Engine) mark(ctx context.Context, step, variant int, title string) error {
	err := e.marker.MarkComplete(ctx, store.CompletionMark{
		UserID:  e.userID,
		Step:    step,
		Variant: variant,
		Section: title,
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.marked[markRef{step: step, variant: variant, section: title}] = true
	e.mu.Unlock()
	return nil
}

// UnmarkComplete deletes a section's mark. Underlying responses are untouched.
func (e *Engine) UnmarkComplete(ctx context.Context, step, variant int, title string) error {
	err := e.marker.UnmarkComplete(ctx, store.CompletionMark{
		UserID:  e.userID,
		Step:    step,
		Variant: variant,
		Section: title,
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.marked, markRef{step: step, variant: variant, section: title})
	e.mu.Unlock()
	return nil
}

// StepComplete reports whether every named section of the step carries a mark.
// The reserved step-confirm mark is not required and not counted.
func (e *Engine) StepComplete(step, variant int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ref := range e.sections {
		if ref.step != step {
			continue
		}
		if !e.marked[markRef{step: step, variant: variant, section: ref.title}] {
			return false
		}
	}
	return true
}

// ConfirmStep records the user's explicit confirmation that the whole step is
// done, as a mark under the reserved synthetic section title. Completing every
// sub-section never confirms the step silently; this call is the distinct
// final action.
func (e *Engine) ConfirmStep(ctx context.Context, step, variant int) error {
	if !e.StepComplete(step, variant) {
		return ErrStepIncomplete
	}
	return e.mark(ctx, step, variant, store.StepCompleteSection)
}
