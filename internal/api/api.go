// Package api provides the HTTP control surface for VoiceIntake.
//
// It exposes RESTful endpoints for creating and steering interview
// sessions, the Twilio voice webhooks that drive phone-call sessions, and
// the handoff endpoints downstream consumers use to pick up finished
// profiles and exam results.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/counsellor"
	"github.com/CampusCompass/VoiceIntake/internal/genai"
	"github.com/CampusCompass/VoiceIntake/internal/profile"
	"github.com/CampusCompass/VoiceIntake/internal/store"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
	"github.com/CampusCompass/VoiceIntake/internal/whatsapp"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Server routing and read timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address. Falls back to VOICEINTAKE_API_ADDR, then
	// DefaultAddr.
	Addr string
	// PublicURL is the externally reachable base URL Twilio posts webhooks
	// to, without a trailing slash. Falls back to VOICEINTAKE_PUBLIC_URL.
	PublicURL string
	// Caller places outbound phone calls. Phone sessions are rejected when
	// unset.
	Caller telephony.Caller
	// Sender delivers WhatsApp messages. WhatsApp sessions are rejected
	// when unset.
	Sender whatsapp.Sender
	// GenAI evaluates finished exam results. The evaluate endpoint is
	// unavailable when unset.
	GenAI genai.ClientInterface
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicURL sets the webhook base URL.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = url }
}

// WithCaller enables phone sessions through the given caller.
func WithCaller(c telephony.Caller) Option {
	return func(o *Opts) { o.Caller = c }
}

// WithSender enables WhatsApp sessions through the given sender.
func WithSender(s whatsapp.Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithGenAI enables the exam evaluation endpoint.
func WithGenAI(c genai.ClientInterface) Option {
	return func(o *Opts) { o.GenAI = c }
}

// Server wires session management, channels, and handoff consumers into an
// HTTP API.
type Server struct {
	st        store.Store
	caller    telephony.Caller
	sender    whatsapp.Sender
	router    *whatsapp.Router
	prefiller *profile.Prefiller
	evaluator *counsellor.Evaluator
	publicURL string
	addr      string
	sessions  *sessionRegistry

	httpServer *http.Server
}

// NewServer creates an API server over the given store.
func NewServer(st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("VOICEINTAKE_API_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = os.Getenv("VOICEINTAKE_PUBLIC_URL")
	}
	slog.Debug("Server configuration resolved", "addr", cfg.Addr,
		"publicURL_set", cfg.PublicURL != "",
		"caller_set", cfg.Caller != nil,
		"sender_set", cfg.Sender != nil,
		"genai_set", cfg.GenAI != nil)

	s := &Server{
		st:        st,
		caller:    cfg.Caller,
		sender:    cfg.Sender,
		router:    whatsapp.NewRouter(),
		prefiller: profile.NewPrefiller(st),
		publicURL: cfg.PublicURL,
		addr:      cfg.Addr,
		sessions:  newSessionRegistry(),
	}
	if cfg.GenAI != nil {
		s.evaluator = counsellor.NewEvaluator(st, cfg.GenAI)
	}
	return s
}

// Router returns the WhatsApp inbound router. The WhatsApp client's
// incoming-text handler must be pointed at it for WhatsApp sessions to
// receive answers.
func (s *Server) Router() *whatsapp.Router { return s.router }

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("GET /sessions", s.listSessionsHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/restart", s.restartSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/repeat", s.repeatQuestionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSessionHandler)

	mux.HandleFunc("POST /twilio/voice/{id}", s.twilioVoiceHandler)
	mux.HandleFunc("POST /twilio/gather/{id}", s.twilioGatherHandler)
	mux.HandleFunc("POST /whatsapp/incoming", s.whatsappIncomingHandler)

	mux.HandleFunc("GET /exams", s.listExamsHandler)
	mux.HandleFunc("PUT /participants/{id}/exam-context", s.saveExamContextHandler)
	mux.HandleFunc("POST /participants/{id}/prefill", s.prefillHandler)
	mux.HandleFunc("POST /participants/{id}/evaluate", s.evaluateHandler)

	mux.HandleFunc("GET /health", s.healthHandler)

	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server shutting down")
		s.closeAllSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}
}

func (s *Server) closeAllSessions() {
	for _, entry := range s.sessions.list() {
		entry.close()
		s.sessions.remove(entry.session.ID())
	}
}
