package speech

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ScriptedChannel implements Channel in memory for tests. The test drives
// recognition outcomes explicitly through Recognize, EndWithoutResult, and
// Fail, mirroring how futures arrive from a real engine.
type ScriptedChannel struct {
	mu       sync.Mutex
	spoken   []string
	active   chan RecognitionEvent
	attempts int
	aborts   int
	speakErr error
	closed   bool
}

// NewScriptedChannel creates a ScriptedChannel.
func NewScriptedChannel() *ScriptedChannel {
	return &ScriptedChannel{}
}

// Speak records the utterance and completes immediately.
func (c *ScriptedChannel) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speakErr != nil {
		return c.speakErr
	}
	c.spoken = append(c.spoken, text)
	return nil
}

// SetSpeakError makes all subsequent Speak calls fail with err.
func (c *ScriptedChannel) SetSpeakError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakErr = err
}

// Listen opens a new scripted recognition attempt.
func (c *ScriptedChannel) Listen(ctx context.Context) (<-chan RecognitionEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.active = make(chan RecognitionEvent, 1)
	return c.active, nil
}

// Abort drops the active attempt without delivering a result.
func (c *ScriptedChannel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
}

// Close marks the channel closed.
func (c *ScriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
	return nil
}

// Recognize delivers a recognition result for the active attempt. Returns
// false if no attempt is active.
func (c *ScriptedChannel) Recognize(text string) bool {
	return c.deliver(RecognitionEvent{Kind: EventResult, Text: text})
}

// EndWithoutResult terminates the active attempt without a result.
func (c *ScriptedChannel) EndWithoutResult() bool {
	return c.deliver(RecognitionEvent{Kind: EventEnd})
}

// Fail terminates the active attempt with an engine error.
func (c *ScriptedChannel) Fail(err error) bool {
	return c.deliver(RecognitionEvent{Kind: EventError, Err: err})
}

func (c *ScriptedChannel) deliver(ev RecognitionEvent) bool {
	c.mu.Lock()
	ch := c.active
	c.active = nil
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- ev
	close(ch)
	return true
}

// Spoken returns a copy of everything spoken so far.
func (c *ScriptedChannel) Spoken() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.spoken))
	copy(out, c.spoken)
	return out
}

// Attempts returns the number of recognition attempts started.
func (c *ScriptedChannel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ListeningNow reports whether an attempt is currently active.
func (c *ScriptedChannel) ListeningNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// WaitForAttempts polls until at least n recognition attempts have started
// or the timeout elapses. Tests use it to synchronize with the engine's
// asynchronous turn goroutines.
func (c *ScriptedChannel) WaitForAttempts(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		done := c.attempts >= n && c.active != nil
		c.mu.Unlock()
		if done {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// WaitForSpoken polls until an utterance containing substr has been spoken
// or the timeout elapses.
func (c *ScriptedChannel) WaitForSpoken(substr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range c.Spoken() {
			if strings.Contains(strings.ToLower(s), strings.ToLower(substr)) {
				return true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
