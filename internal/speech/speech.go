// Package speech defines the capability interfaces the conversation engine
// speaks and listens through.
//
// A Channel abstracts one synthesis/recognition engine instance. Each session
// owns exactly one Channel; channels are never shared across sessions.
package speech

import "context"

// EventKind classifies the terminal outcome of a recognition attempt.
type EventKind string

const (
	// EventResult carries recognized text.
	EventResult EventKind = "result"
	// EventEnd means the attempt ended without producing a result.
	EventEnd EventKind = "end"
	// EventError means the engine failed mid-attempt. Treated the same as
	// EventEnd by the engine: recoverable, retried via the repeat path.
	EventError EventKind = "error"
)

// RecognitionEvent is a single event from a recognition attempt.
type RecognitionEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Synthesizer speaks utterances. At most one utterance is active at a time;
// issuing a new one implicitly cancels any pending one.
type Synthesizer interface {
	// Speak renders the text and returns once the utterance has completed
	// (or ctx is cancelled).
	Speak(ctx context.Context, text string) error
}

// Recognizer runs single non-continuous recognition attempts configured for
// final results only.
type Recognizer interface {
	// Listen starts one recognition attempt. Exactly one terminal event is
	// delivered on the returned channel, after which it is closed.
	Listen(ctx context.Context) (<-chan RecognitionEvent, error)

	// Abort best-effort stops the active attempt. Safe to call when no
	// attempt is active.
	Abort()
}

// Channel bundles the synthesis and recognition capabilities of one engine
// instance.
type Channel interface {
	Synthesizer
	Recognizer

	// Close releases the engine. Idempotent.
	Close() error
}
