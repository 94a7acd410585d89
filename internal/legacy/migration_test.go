package legacy

import (
	"context"
	"errors"
	"testing"

	"ignite/api/internal/store"
)

type fakeBatchWriter struct {
	fail    error
	batches [][]store.ResponseRecord
	records map[string]store.ResponseRecord
}

func newFakeBatchWriter() *fakeBatchWriter {
	return &fakeBatchWriter{records: make(map[string]store.ResponseRecord)}
}

func (f *fakeBatchWriter) UpsertResponseBatch(ctx context.Context, records []store.ResponseRecord) error {
	if f.fail != nil {
		return f.fail
	}
	f.batches = append(f.batches, records)
	for _, record := range records {
		slot := record.UserID + "|" + record.Section + "|" + record.Question
		f.records[slot] = record
	}
	return nil
}

func TestMigrateSpecimenKey(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	writer := newFakeBatchWriter()
	migrator := NewMigrator(cache, writer)

	if err := cache.Set(ctx, "sales-strategy-responses-42", `{"goal":"grow"}`); err != nil {
		t.Fatal(err)
	}

	count, err := migrator.Migrate(ctx, "42", 4)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migrated record, got %d", count)
	}

	record, ok := writer.records["42|Sales Strategy|sales-strategy-goal"]
	if !ok {
		t.Fatalf("expected migrated record, have %v", writer.records)
	}
	if record.Text != "grow" || record.Step != 4 || record.Variant != 1 {
		t.Errorf("unexpected record %+v", record)
	}

	// Legacy key deleted only after the acknowledged write.
	if _, found, _ := cache.Get(ctx, "sales-strategy-responses-42"); found {
		t.Error("legacy key should be deleted after migration")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	writer := newFakeBatchWriter()
	migrator := NewMigrator(cache, writer)

	_ = cache.Set(ctx, "sales-strategy-responses-42", `{"goal":"grow","channel":"webinars"}`)
	_ = cache.Set(ctx, "launch-plan-responses-42", `{"date":"march"}`)

	first, err := migrator.Migrate(ctx, "42", 4)
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if first != 3 {
		t.Fatalf("expected 3 records, got %d", first)
	}

	second, err := migrator.Migrate(ctx, "42", 4)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected zero on rerun, got %d", second)
	}
	if len(writer.batches) != 1 {
		t.Errorf("expected exactly one batch write, got %d", len(writer.batches))
	}
}

func TestMigrateFailureLeavesLegacyIntact(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	writer := newFakeBatchWriter()
	writer.fail = errors.New("durable store down")
	migrator := NewMigrator(cache, writer)

	_ = cache.Set(ctx, "sales-strategy-responses-42", `{"goal":"grow"}`)

	if _, err := migrator.Migrate(ctx, "42", 4); err == nil {
		t.Fatal("expected migrate error")
	}
	if _, found, _ := cache.Get(ctx, "sales-strategy-responses-42"); !found {
		t.Fatal("failed batch must not delete legacy entries")
	}

	// Retry succeeds and recovers the same data.
	writer.fail = nil
	count, err := migrator.Migrate(ctx, "42", 4)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record on retry, got %d", count)
	}
}

func TestMigrateSkipsBlankAndForeignEntries(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	writer := newFakeBatchWriter()
	migrator := NewMigrator(cache, writer)

	// Whitespace-only answers are discarded; other users' keys are not scanned.
	_ = cache.Set(ctx, "sales-strategy-responses-42", `{"goal":"   ","channel":"webinars"}`)
	_ = cache.Set(ctx, "sales-strategy-responses-7", `{"goal":"other user"}`)

	count, err := migrator.Migrate(ctx, "42", 4)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
	if _, found, _ := cache.Get(ctx, "sales-strategy-responses-7"); !found {
		t.Error("foreign user's legacy key must survive")
	}
}

func TestMigrateBareStringBlob(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	writer := newFakeBatchWriter()
	migrator := NewMigrator(cache, writer)

	// Oldest step-1 clients stored the answer as a bare JSON string.
	_ = cache.Set(ctx, "dream-customer-responses-42", `"a wonderfully specific person"`)

	count, err := migrator.Migrate(ctx, "42", 1)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
	record := writer.records["42|Dream Customer|dream-customer-response"]
	if record.Text != "a wonderfully specific person" {
		t.Errorf("unexpected record %+v", record)
	}
}
