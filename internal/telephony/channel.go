package telephony

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/speech"
)

// WebhookWaitTimeout bounds how long a TwiML webhook waits for the engine
// to produce the next verb before answering with a short pause.
const WebhookWaitTimeout = 5 * time.Second

// utterance is one queued Speak call. rendered is closed once the text has
// been written into a TwiML response handed to Twilio.
type utterance struct {
	text     string
	rendered chan struct{}
}

// CallChannel adapts one live phone call to the speech channel interface.
//
// The engine and Twilio meet in the middle: Speak queues text and blocks
// until a webhook renders it; Listen opens an attempt that the gather
// webhook resolves. An utterance counts as delivered once rendered, since
// Twilio plays the document before requesting the next one.
type CallChannel struct {
	gatherAction string

	mu        sync.Mutex
	queue     []*utterance
	active    chan speech.RecognitionEvent
	listening bool
	closed    bool
	wake      chan struct{}
}

// NewCallChannel creates a channel for one call. gatherAction is the URL
// Twilio posts speech results to.
func NewCallChannel(gatherAction string) *CallChannel {
	return &CallChannel{
		gatherAction: gatherAction,
		wake:         make(chan struct{}, 1),
	}
}

func (c *CallChannel) signalLocked() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Speak queues an utterance and blocks until a webhook renders it into a
// TwiML response, or ctx is cancelled.
func (c *CallChannel) Speak(ctx context.Context, text string) error {
	u := &utterance{text: text, rendered: make(chan struct{})}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return context.Canceled
	}
	c.queue = append(c.queue, u)
	c.signalLocked()
	c.mu.Unlock()

	select {
	case <-u.rendered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen opens a recognition attempt resolved by the next gather webhook.
func (c *CallChannel) Listen(ctx context.Context) (<-chan speech.RecognitionEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		close(c.active)
	}
	c.active = make(chan speech.RecognitionEvent, 1)
	c.listening = true
	c.signalLocked()
	return c.active, nil
}

// Abort drops the active attempt without delivering a result.
func (c *CallChannel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
}

// Close tears the channel down; subsequent webhooks hang up.
func (c *CallChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listening = false
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
	c.signalLocked()
	// Unblock any Speak callers.
	for _, u := range c.queue {
		close(u.rendered)
	}
	c.queue = nil
	return nil
}

// HandleGatherResult feeds a speech transcription from the gather webhook
// into the active attempt. An empty transcription ends the attempt without
// a result, which the engine treats like silence.
func (c *CallChannel) HandleGatherResult(text string) {
	c.mu.Lock()
	if !c.listening || c.active == nil {
		c.mu.Unlock()
		slog.Debug("Gather result arrived outside an attempt, ignored")
		return
	}
	ch := c.active
	c.active = nil
	c.listening = false
	c.mu.Unlock()

	if text == "" {
		ch <- speech.RecognitionEvent{Kind: speech.EventEnd}
	} else {
		ch <- speech.RecognitionEvent{Kind: speech.EventResult, Text: text}
	}
	close(ch)
}

// NextTwiML builds the next TwiML document for the call. It waits up to
// WebhookWaitTimeout for the engine to queue speech or start listening;
// if nothing happens it answers with a short pause and a redirect so the
// call stays alive.
func (c *CallChannel) NextTwiML(ctx context.Context, selfURL string) TwiMLResponse {
	deadline := time.After(WebhookWaitTimeout)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return TwiMLResponse{Hangup: &Hangup{}}
		}
		if len(c.queue) > 0 || c.listening {
			resp := TwiMLResponse{}
			for _, u := range c.queue {
				resp.Says = append(resp.Says, NewSay(u.text))
				close(u.rendered)
			}
			c.queue = nil
			if c.listening {
				resp.Gather = NewGather(c.gatherAction)
			} else {
				resp.Redirect = &Redirect{Method: "POST", URL: selfURL}
			}
			c.mu.Unlock()
			return resp
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-deadline:
			return TwiMLResponse{Pause: &Pause{Length: 1}, Redirect: &Redirect{Method: "POST", URL: selfURL}}
		case <-ctx.Done():
			return TwiMLResponse{Hangup: &Hangup{}}
		}
	}
}
