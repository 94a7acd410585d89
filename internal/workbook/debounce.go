package workbook

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid triggers into one delayed run per key. A new
// trigger for a pending key replaces its task and restarts the delay, so
// overlapping triggers collapse instead of racing.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
	pending map[string]func()
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]func()),
	}
}

func (d *Debouncer) Trigger(key string, task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[key] = task
	if timer, ok := d.timers[key]; ok {
		timer.Reset(d.delay)
		return
	}
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.fire(key)
	})
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	task, ok := d.pending[key]
	delete(d.pending, key)
	delete(d.timers, key)
	d.mu.Unlock()
	if ok && task != nil {
		task()
	}
}

// Flush runs every pending task immediately. Test hook.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	tasks := make([]func(), 0, len(d.pending))
	for key, task := range d.pending {
		if timer, ok := d.timers[key]; ok {
			timer.Stop()
		}
		delete(d.timers, key)
		delete(d.pending, key)
		if task != nil {
			tasks = append(tasks, task)
		}
	}
	d.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

// Stop cancels all pending tasks and rejects new triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
		delete(d.pending, key)
	}
}
