// Package flow implements the voice conversation engine: question catalogs,
// answer normalization, the turn state machine, and the session driver.
package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules delayed actions. The engine uses it for the per-attempt
// silence guard; tests substitute a manual implementation.
type Timer interface {
	// ScheduleAfter schedules fn to run after delay and returns a handle
	// for cancellation.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function by ID. Cancelling an unknown or
	// already-fired ID is a no-op.
	Cancel(id string) error

	// Stop cancels all scheduled functions.
	Stop()
}

// timerEntry tracks a scheduled timer.
type timerEntry struct {
	timer     *time.Timer
	expiresAt time.Time
}

// SimpleTimer implements Timer using the standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*timerEntry)}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{timer: timer, expiresAt: time.Now().Add(delay)}
	t.mu.Unlock()

	slog.Debug("SimpleTimer scheduled", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer cancelled", "id", id)
	}
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.timers {
		entry.timer.Stop()
		delete(t.timers, id)
	}
	slog.Debug("SimpleTimer stopped all timers")
}

// Active returns the number of pending timers.
func (t *SimpleTimer) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
