// Package workbook implements the response persistence core: the field key
// model, the dirty-change tracker, the three-tier value resolver, the
// manual-commit save controller, and the section completion engine. All state
// here is per-user-session and in-memory; the durable store is the only thing
// shared across sessions.
package workbook

import "fmt"

// Key identifies one workbook answer: a (user, step, offer variant, section,
// question) tuple. Keys are value types; two keys address the same storage
// slot iff all five components are equal.
//
// Section and question components derive from authored content. Renaming a
// section or rewording a question key silently orphans the history stored
// under the old key; callers must treat these strings as frozen identifiers
// once any answer has been saved under them.
type Key struct {
	UserID   string
	Step     int
	Variant  int
	Section  string
	Question string
}

// NewKey builds a Key, normalizing variant 0 to 1 (the single-offer case).
func NewKey(userID string, step, variant int, section, question string) Key {
	if variant < 1 {
		variant = 1
	}
	return Key{
		UserID:   userID,
		Step:     step,
		Variant:  variant,
		Section:  section,
		Question: question,
	}
}

// Slot renders the canonical storage slot string. Distinct tuples cannot
// collide: the separator never appears in the numeric parts and section and
// question occupy fixed positions.
func (k Key) Slot() string {
	return fmt.Sprintf("%s|%d|%d|%s|%s", k.UserID, k.Step, k.Variant, k.Section, k.Question)
}
