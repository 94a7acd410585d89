package store

import (
	"encoding/json"
	"time"
)

// ResponseRecord is the durable copy of one workbook answer. Records are
// upserted by their five-part key, never addressed by id from callers.
type ResponseRecord struct {
	ID        string
	UserID    string
	Step      int
	Variant   int
	Section   string
	Question  string
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompletionMark marks one section of a step complete. Existence is the whole
// payload: at most one mark per (user, step, variant, section).
type CompletionMark struct {
	UserID    string
	Step      int
	Variant   int
	Section   string
	CreatedAt time.Time
}

// StepCompleteSection is the reserved synthetic section title recording that a
// user explicitly confirmed a whole step after all of its sections were marked.
const StepCompleteSection = "__step_complete__"

// Transcript statuses. "processing" must resolve to "processed" or revert to
// "draft"; "updated" is reachable only from "processed".
const (
	TranscriptDraft      = "draft"
	TranscriptProcessing = "processing"
	TranscriptProcessed  = "processed"
	TranscriptUpdated    = "updated"
)

type Transcript struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Status    string
	ObjectKey string
	Extracted json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
