package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimerFires(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{})
	if _, err := timer.ScheduleAfter(5*time.Millisecond, func() { close(fired) }); err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Bool
	id, err := timer.ScheduleAfter(20*time.Millisecond, func() { fired.Store(true) })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
	if timer.Active() != 0 {
		t.Errorf("Active() = %d after cancel, want 0", timer.Active())
	}

	// Cancelling an unknown ID is a no-op.
	if err := timer.Cancel("timer_999"); err != nil {
		t.Errorf("Cancel of unknown ID returned %v", err)
	}
}

func TestSimpleTimerStopCancelsAll(t *testing.T) {
	timer := NewSimpleTimer()

	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		if _, err := timer.ScheduleAfter(20*time.Millisecond, func() { fired.Add(1) }); err != nil {
			t.Fatalf("ScheduleAfter failed: %v", err)
		}
	}
	if timer.Active() != 3 {
		t.Fatalf("Active() = %d, want 3", timer.Active())
	}
	timer.Stop()

	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("%d timers fired after Stop", n)
	}
	if timer.Active() != 0 {
		t.Errorf("Active() = %d after Stop, want 0", timer.Active())
	}
}

func TestMinTokensValidator(t *testing.T) {
	v := MinTokensValidator(3)

	tests := []struct {
		raw string
		ok  bool
	}{
		{"Okay.", false},
		{"I agree", false},
		{"I strongly agree", true},
		{"  spaced   out   answer  ", true},
		{"", false},
	}
	for _, tt := range tests {
		ok, reprompt := v(tt.raw)
		if ok != tt.ok {
			t.Errorf("MinTokensValidator(3)(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
		}
		if !ok && reprompt != "Please give a complete answer." {
			t.Errorf("reprompt = %q", reprompt)
		}
		if ok && reprompt != "" {
			t.Errorf("accepted answer carried reprompt %q", reprompt)
		}
	}
}
