package whatsapp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/CampusCompass/VoiceIntake/internal/speech"
)

// TextChannel adapts a WhatsApp conversation with one participant to the
// speech channel interface: Speak sends a message, and a recognition
// attempt resolves with the participant's next inbound message. The
// engine's silence timer applies unchanged, it just measures typing
// instead of speaking.
type TextChannel struct {
	sender Sender
	number string

	mu     sync.Mutex
	active chan speech.RecognitionEvent
	closed bool
}

// NewTextChannel creates a channel bound to one participant phone number.
func NewTextChannel(sender Sender, number string) *TextChannel {
	return &TextChannel{sender: sender, number: number}
}

// Number returns the participant phone number this channel is bound to.
func (c *TextChannel) Number() string { return c.number }

// Speak delivers an utterance as a WhatsApp message.
func (c *TextChannel) Speak(ctx context.Context, text string) error {
	return c.sender.SendMessage(ctx, c.number, text)
}

// Listen opens a recognition attempt that resolves on the next inbound
// message from the participant.
func (c *TextChannel) Listen(ctx context.Context) (<-chan speech.RecognitionEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		close(c.active)
	}
	c.active = make(chan speech.RecognitionEvent, 1)
	return c.active, nil
}

// Abort drops the active attempt without delivering a result.
func (c *TextChannel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
}

// Close tears the channel down.
func (c *TextChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.active != nil {
		close(c.active)
		c.active = nil
	}
	return nil
}

// HandleIncoming feeds an inbound message into the channel. Messages from
// other senders, or arriving while no attempt is active, are ignored.
// Returns true if the message was consumed by an attempt.
func (c *TextChannel) HandleIncoming(from, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || from != c.number || c.active == nil {
		return false
	}
	ch := c.active
	c.active = nil
	ch <- speech.RecognitionEvent{Kind: speech.EventResult, Text: body}
	close(ch)
	return true
}

// Router fans inbound WhatsApp messages out to the text channel registered
// for each participant.
type Router struct {
	mu       sync.Mutex
	channels map[string]*TextChannel
}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{channels: make(map[string]*TextChannel)}
}

// Register adds a channel. A previous channel for the same number is
// replaced.
func (r *Router) Register(c *TextChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.Number()] = c
}

// Unregister removes the channel for a number.
func (r *Router) Unregister(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, number)
}

// Route delivers an inbound message to the matching channel, if any.
func (r *Router) Route(from, body string) {
	r.mu.Lock()
	c := r.channels[from]
	r.mu.Unlock()
	if c == nil {
		slog.Debug("WhatsApp message from unknown sender ignored", "from", from)
		return
	}
	if !c.HandleIncoming(from, body) {
		slog.Debug("WhatsApp message arrived outside an attempt", "from", from)
	}
}
