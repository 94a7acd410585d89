package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ignite/api/internal/store"
	"ignite/api/internal/util"
)

// BatchWriter commits a migration batch atomically: either every record lands
// or none do, so legacy deletion can be gated on the whole batch.
type BatchWriter interface {
	UpsertResponseBatch(ctx context.Context, records []store.ResponseRecord) error
}

// Migrator drains the legacy cache into the durable store, one (user, step)
// at a time. Safe to invoke repeatedly: once legacy entries are deleted, later
// runs find nothing and report zero.
type Migrator struct {
	cache *Cache
	store BatchWriter
}

func NewMigrator(cache *Cache, writer BatchWriter) *Migrator {
	return &Migrator{cache: cache, store: writer}
}

// Migrate scans the step's historical key shapes for this user, transforms
// matches into durable records, writes them as one batch, and deletes the
// legacy entries only after the write is acknowledged. If the batch write
// fails the legacy entries are left untouched for a later retry.
func (m *Migrator) Migrate(ctx context.Context, userID string, step int) (int, error) {
	var records []store.ResponseRecord
	var matchedKeys []string

	for _, shape := range ShapesForStep(step) {
		cacheKey := shape.CacheKey(userID)
		raw, found, err := m.cache.Get(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}

		entries := parseEntries(raw)
		kept := 0
		for _, field := range sortedFields(entries) {
			text := entries[field]
			if strings.TrimSpace(text) == "" {
				continue
			}
			records = append(records, store.ResponseRecord{
				ID:       util.NewID("resp"),
				UserID:   userID,
				Step:     step,
				Variant:  1,
				Section:  shape.Section,
				Question: shape.QuestionKey(field),
				Text:     text,
			})
			kept++
		}
		if kept > 0 {
			matchedKeys = append(matchedKeys, cacheKey)
		}
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := m.store.UpsertResponseBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("migrate batch: %w", err)
	}

	// Deletion strictly after the acknowledged batch. A failure here leaves
	// the durable copies in place; the next run re-upserts the same values.
	if err := m.cache.Delete(ctx, matchedKeys...); err != nil {
		return len(records), fmt.Errorf("retire legacy entries: %w", err)
	}
	return len(records), nil
}

// parseEntries decodes one legacy blob. Blobs are JSON objects of
// field → answer text; the oldest clients stored a bare string, which maps to
// the single field "response". Non-string JSON values are ignored.
func parseEntries(raw string) map[string]string {
	var object map[string]any
	if err := json.Unmarshal([]byte(raw), &object); err == nil {
		entries := make(map[string]string, len(object))
		for field, value := range object {
			if text, ok := value.(string); ok {
				entries[field] = text
			}
		}
		return entries
	}

	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return map[string]string{"response": single}
	}
	return map[string]string{"response": raw}
}

func sortedFields(entries map[string]string) []string {
	fields := make([]string, 0, len(entries))
	for field := range entries {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
