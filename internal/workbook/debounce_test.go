package workbook

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesTriggers(t *testing.T) {
	debounce := NewDebouncer(20 * time.Millisecond)
	defer debounce.Stop()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		debounce.Trigger("section-a", func() { fired.Add(1) })
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give a straggler timer a chance to fire wrongly.
	time.Sleep(50 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Fatalf("expected one coalesced firing, got %d", got)
	}
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	debounce := NewDebouncer(10 * time.Millisecond)
	defer debounce.Stop()

	var a, b atomic.Int32
	debounce.Trigger("section-a", func() { a.Add(1) })
	debounce.Trigger("section-b", func() { b.Add(1) })
	debounce.Flush()

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("expected both tasks to run, got a=%d b=%d", a.Load(), b.Load())
	}
}

func TestDebouncerLatestTaskWins(t *testing.T) {
	debounce := NewDebouncer(50 * time.Millisecond)
	defer debounce.Stop()

	var ran atomic.Int32
	debounce.Trigger("section-a", func() { ran.Store(1) })
	debounce.Trigger("section-a", func() { ran.Store(2) })
	debounce.Flush()

	if ran.Load() != 2 {
		t.Fatalf("expected the replacing task to run, got %d", ran.Load())
	}
}

func TestStopCancelsPending(t *testing.T) {
	debounce := NewDebouncer(10 * time.Millisecond)

	var fired atomic.Int32
	debounce.Trigger("section-a", func() { fired.Add(1) })
	debounce.Stop()

	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped debouncer still fired")
	}

	debounce.Trigger("section-a", func() { fired.Add(1) })
	debounce.Flush()
	if fired.Load() != 0 {
		t.Fatal("stopped debouncer accepted a new trigger")
	}
}
