// Package transcripts governs long-running processing of uploaded call
// transcripts: the draft → processing → processed → updated status machine,
// the recovery check that keeps stale network failures from clobbering
// completed work, and the watchdog that frees jobs stuck in processing.
package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ignite/api/internal/store"
	"ignite/api/internal/util"
)

var ErrBusy = errors.New("transcript is being processed")

type transcriptStore interface {
	ListTranscripts(ctx context.Context, userID string) ([]store.Transcript, error)
	GetTranscript(ctx context.Context, id string) (store.Transcript, error)
	InsertTranscript(ctx context.Context, item store.Transcript) error
	UpdateTranscriptContent(ctx context.Context, id, title, content string) error
	DeleteTranscript(ctx context.Context, id string) error
	BeginProcessing(ctx context.Context, id string) (bool, error)
	FinishProcessing(ctx context.Context, id string, extracted json.RawMessage) (bool, error)
	RevertProcessing(ctx context.Context, id string) (bool, error)
	MarkUpdated(ctx context.Context, id string) (bool, error)
	ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	CountProcessing(ctx context.Context, userID string) (int, error)
}

type processor interface {
	Process(ctx context.Context, text string, meta map[string]string) (json.RawMessage, error)
}

type artifactStore interface {
	Put(ctx context.Context, objectKey, text string) error
	Get(ctx context.Context, objectKey string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type Service struct {
	store     transcriptStore
	ai        processor
	artifacts artifactStore // may be nil

	stalenessWindow time.Duration
	recoveryDelay   time.Duration
	now             func() time.Time
	sleep           func(time.Duration)
}

func New(transcripts transcriptStore, ai processor, artifacts artifactStore, stalenessWindow, recoveryDelay time.Duration) *Service {
	return &Service{
		store:           transcripts,
		ai:              ai,
		artifacts:       artifacts,
		stalenessWindow: stalenessWindow,
		recoveryDelay:   recoveryDelay,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// List returns the user's transcripts, running the stuck-job watchdog first:
// any job processing longer than the staleness window reverts to draft. The
// watchdog is best-effort and safe to run from many callers at once.
func (s *Service) List(ctx context.Context, userID string) ([]store.Transcript, error) {
	cutoff := s.now().Add(-s.stalenessWindow)
	if reverted, err := s.store.ResetStaleProcessing(ctx, cutoff); err != nil {
		log.Printf("transcripts: stale-job watchdog: %v", err)
	} else if reverted > 0 {
		log.Printf("transcripts: watchdog reverted %d stuck job(s) to draft", reverted)
	}
	return s.store.ListTranscripts(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id string) (store.Transcript, error) {
	return s.store.GetTranscript(ctx, id)
}

func (s *Service) Create(ctx context.Context, userID, title, content string) (store.Transcript, error) {
	item := store.Transcript{
		ID:      util.NewID("tr"),
		UserID:  userID,
		Title:   title,
		Content: content,
		Status:  store.TranscriptDraft,
	}
	if s.artifacts != nil {
		item.ObjectKey = "transcripts/" + item.ID + ".txt"
		if err := s.artifacts.Put(ctx, item.ObjectKey, content); err != nil {
			log.Printf("transcripts: store artifact %s: %v", item.ObjectKey, err)
			item.ObjectKey = ""
		}
	}
	if err := s.store.InsertTranscript(ctx, item); err != nil {
		return store.Transcript{}, err
	}
	return s.store.GetTranscript(ctx, item.ID)
}

// UpdateContent edits a transcript. Editing a processed transcript moves it to
// updated, since the extracted results may now be stale. Editing is refused
// while the job is processing.
func (s *Service) UpdateContent(ctx context.Context, id, title, content string) (store.Transcript, error) {
	current, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return store.Transcript{}, err
	}
	if current.Status == store.TranscriptProcessing {
		return store.Transcript{}, ErrBusy
	}

	if err := s.store.UpdateTranscriptContent(ctx, id, title, content); err != nil {
		return store.Transcript{}, err
	}
	if current.Status == store.TranscriptProcessed {
		if _, err := s.store.MarkUpdated(ctx, id); err != nil {
			return store.Transcript{}, err
		}
	}
	if s.artifacts != nil && current.ObjectKey != "" {
		if err := s.artifacts.Put(ctx, current.ObjectKey, content); err != nil {
			log.Printf("transcripts: refresh artifact %s: %v", current.ObjectKey, err)
		}
	}
	return s.store.GetTranscript(ctx, id)
}

// Artifact returns the stored raw text for one transcript, reading the object
// store when an artifact exists and falling back to the durable row.
func (s *Service) Artifact(ctx context.Context, id string) (string, error) {
	item, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return "", err
	}
	if s.artifacts == nil || item.ObjectKey == "" {
		return item.Content, nil
	}
	text, err := s.artifacts.Get(ctx, item.ObjectKey)
	if err != nil {
		log.Printf("transcripts: read artifact %s, falling back to row: %v", item.ObjectKey, err)
		return item.Content, nil
	}
	return text, nil
}

// Delete removes a transcript and its artifact. Deletion is refused while the
// job is processing.
func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == store.TranscriptProcessing {
		return ErrBusy
	}
	if err := s.store.DeleteTranscript(ctx, id); err != nil {
		return err
	}
	if s.artifacts != nil && item.ObjectKey != "" {
		if err := s.artifacts.Delete(ctx, item.ObjectKey); err != nil {
			log.Printf("transcripts: delete artifact %s: %v", item.ObjectKey, err)
		}
	}
	return nil
}

// Process runs the external processing call for one transcript. The
// processing status is persisted before the call is issued, so a reload
// during processing still shows processing. A failed call is given a recovery
// check before the revert: after a short delay the durable status is
// re-queried, and if no job for this user is still processing, the failure is
// treated as a stale network error masking an actual success.
func (s *Service) Process(ctx context.Context, id string) (store.Transcript, error) {
	item, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return store.Transcript{}, err
	}

	started, err := s.store.BeginProcessing(ctx, id)
	if err != nil {
		return store.Transcript{}, err
	}
	if !started {
		// Already processing, or not in a processable state. Report current truth.
		return s.store.GetTranscript(ctx, id)
	}

	result, err := s.ai.Process(ctx, item.Content, map[string]string{
		"user_id":       item.UserID,
		"transcript_id": item.ID,
	})
	if err != nil {
		return s.recoverOrRevert(ctx, id, item.UserID, err)
	}

	if _, err := s.store.FinishProcessing(ctx, id, result); err != nil {
		// Results could not be persisted; the job did not complete.
		if _, rerr := s.store.RevertProcessing(ctx, id); rerr != nil {
			log.Printf("transcripts: revert after persist failure: %v", rerr)
		}
		return store.Transcript{}, err
	}
	return s.store.GetTranscript(ctx, id)
}

func (s *Service) recoverOrRevert(ctx context.Context, id, userID string, cause error) (store.Transcript, error) {
	s.sleep(s.recoveryDelay)

	count, err := s.store.CountProcessing(ctx, userID)
	if err == nil && count == 0 {
		log.Printf("transcripts: process call failed but no job is processing; keeping server state (cause: %v)", cause)
		return s.store.GetTranscript(ctx, id)
	}

	if _, err := s.store.RevertProcessing(ctx, id); err != nil {
		log.Printf("transcripts: revert processing %s: %v", id, err)
	}
	current, getErr := s.store.GetTranscript(ctx, id)
	if getErr != nil {
		return store.Transcript{}, fmt.Errorf("process transcript: %w", cause)
	}
	return current, fmt.Errorf("process transcript: %w", cause)
}
