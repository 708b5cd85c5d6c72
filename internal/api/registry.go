package api

import (
	"sync"

	"github.com/CampusCompass/VoiceIntake/internal/flow"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
	"github.com/CampusCompass/VoiceIntake/internal/whatsapp"
)

// sessionEntry pairs a live session with the channel carrying it. Exactly
// one of call/text is set, matching the transport the session was created
// over.
type sessionEntry struct {
	session *flow.Session
	call    *telephony.CallChannel
	text    *whatsapp.TextChannel
}

func (e *sessionEntry) close() {
	e.session.Close()
	if e.call != nil {
		e.call.Close()
	}
	if e.text != nil {
		e.text.Close()
	}
}

// sessionRegistry tracks live sessions by ID.
type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[string]*sessionEntry)}
}

func (r *sessionRegistry) add(e *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.session.ID()] = e
}

func (r *sessionRegistry) get(id string) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *sessionRegistry) list() []*sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sessionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
