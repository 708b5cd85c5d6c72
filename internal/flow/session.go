package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/speech"
)

// Silence timeouts match the product behavior: onboarding nudges quickly,
// the exam gives the candidate room to think.
const (
	DefaultOnboardingSilenceTimeout = 5 * time.Second
	DefaultExamSilenceTimeout       = 10 * time.Second

	// ExamMinAnswerTokens is the short-answer rejection threshold for exam
	// sessions.
	ExamMinAnswerTokens = 3

	onboardingWelcomeLine = "Welcome to AI voice onboarding. Shall we begin?"
	onboardingClosingLine = "Thank you. Let's review your details."
	onboardingRestartLine = "Restarting onboarding. Let's begin again."
	onboardingFallback    = "I didn't catch that. Let me repeat the question."

	examClosingLine = "Thank you. I will now analyze your answers."
	examFallback    = "I didn't hear anything."
)

// SessionStore is the subset of store operations a session needs: the final
// handoff write plus snapshot persistence for crash recovery.
type SessionStore interface {
	SaveVoiceProfile(ctx context.Context, participantID string, profile models.VoiceProfile) error
	SaveExamResult(ctx context.Context, participantID string, result models.ExamResult) error
	ConsumeExamContext(ctx context.Context, participantID string) (models.ExamContext, error)
	SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error
	DeleteSessionSnapshot(ctx context.Context, id string) error
}

// SessionOpts holds optional session configuration.
type SessionOpts struct {
	ID               string
	Channel          string
	PhoneNumber      string
	Timer            Timer
	MaxSilentRetries int
	SilenceTimeout   time.Duration
	Resume           *models.SessionSnapshot
}

// SessionOption configures a session.
type SessionOption func(*SessionOpts)

// WithSessionID fixes the session identifier instead of generating one.
// Callers that build callback URLs need the ID before the session exists.
func WithSessionID(id string) SessionOption {
	return func(o *SessionOpts) { o.ID = id }
}

// WithTransport records which channel carries the session and the
// participant's phone number. Snapshots keep both so a recovered session
// can be reattached to an equivalent channel.
func WithTransport(channel, phoneNumber string) SessionOption {
	return func(o *SessionOpts) {
		o.Channel = channel
		o.PhoneNumber = phoneNumber
	}
}

// WithTimer injects a timer implementation, used by tests to control the
// silence timeout deterministically.
func WithTimer(t Timer) SessionOption {
	return func(o *SessionOpts) { o.Timer = t }
}

// WithMaxSilentRetries bounds consecutive no-input attempts per question.
// Zero keeps the default of retrying forever.
func WithMaxSilentRetries(n int) SessionOption {
	return func(o *SessionOpts) { o.MaxSilentRetries = n }
}

// WithSilenceTimeout overrides the flow's default silence timeout.
func WithSilenceTimeout(d time.Duration) SessionOption {
	return func(o *SessionOpts) { o.SilenceTimeout = d }
}

// WithResume seeds the session from a persisted snapshot so a recovered
// session continues at its saved index instead of question 0.
func WithResume(snap models.SessionSnapshot) SessionOption {
	return func(o *SessionOpts) { o.Resume = &snap }
}

// Session binds a turn controller to a participant, a speech channel, and
// the handoff store. Each session gets a fresh engine instance.
type Session struct {
	id            string
	participantID string
	flow          models.FlowType
	examType      string
	university    string
	transport     string
	phoneNumber   string
	controller    *TurnController
	channel       speech.Channel
	store         SessionStore
}

// NewOnboardingSession builds a session over the 12-question onboarding
// catalog. On finish the collected profile is written to the participant's
// voice profile handoff slot.
func NewOnboardingSession(participantID string, channel speech.Channel, store SessionStore, options ...SessionOption) (*Session, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, models.ErrEmptyParticipant
	}
	opts := applySessionOptions(options)

	s := &Session{
		id:            sessionID(opts),
		participantID: participantID,
		flow:          models.FlowTypeOnboarding,
		channel:       channel,
		store:         store,
	}
	s.applyTransport(opts)

	timeout := opts.SilenceTimeout
	if timeout <= 0 {
		timeout = DefaultOnboardingSilenceTimeout
	}
	cfg := Config{
		Catalog:          OnboardingCatalog(),
		SilenceTimeout:   timeout,
		MaxSilentRetries: opts.MaxSilentRetries,
		WelcomeLine:      onboardingWelcomeLine,
		ClosingLine:      onboardingClosingLine,
		RestartLine:      onboardingRestartLine,
		FallbackLine:     onboardingFallback,
		OnFinish: func(a Answers) error {
			return s.finishOnboarding(a)
		},
		OnProgress: s.persistProgress,
	}

	ctrl, err := NewTurnController(cfg, channel, opts.Timer)
	if err != nil {
		return nil, fmt.Errorf("failed to create onboarding session: %w", err)
	}
	s.controller = ctrl
	if opts.Resume != nil {
		ctrl.restore(*opts.Resume)
	}
	return s, nil
}

// NewExamSession builds a session over the question set for the given exam
// type. Any pending exam context for the participant is consumed up front so
// the finished result carries the target university.
func NewExamSession(ctx context.Context, participantID, examType string, channel speech.Channel, store SessionStore, options ...SessionOption) (*Session, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, models.ErrEmptyParticipant
	}
	catalog, err := ExamCatalog(examType)
	if err != nil {
		return nil, err
	}
	opts := applySessionOptions(options)

	university := ""
	switch {
	case opts.Resume != nil:
		// The context was consumed when the session first started; the
		// snapshot carries what it said.
		university = opts.Resume.University
	case store != nil:
		examCtx, cerr := store.ConsumeExamContext(ctx, participantID)
		switch {
		case cerr == nil:
			university = examCtx.University
		case errors.Is(cerr, models.ErrNoHandoff):
			// Practice run without a pending application.
		default:
			return nil, fmt.Errorf("failed to consume exam context: %w", cerr)
		}
	}

	s := &Session{
		id:            sessionID(opts),
		participantID: participantID,
		flow:          models.FlowTypeExam,
		examType:      examType,
		university:    university,
		channel:       channel,
		store:         store,
	}
	s.applyTransport(opts)

	timeout := opts.SilenceTimeout
	if timeout <= 0 {
		timeout = DefaultExamSilenceTimeout
	}
	cfg := Config{
		Catalog:          catalog,
		SilenceTimeout:   timeout,
		Validator:        MinTokensValidator(ExamMinAnswerTokens),
		MaxSilentRetries: opts.MaxSilentRetries,
		WelcomeLine:      fmt.Sprintf("Welcome to %s speaking practice. Let's begin.", strings.ToUpper(examType)),
		ClosingLine:      examClosingLine,
		RestartLine:      fmt.Sprintf("Restarting %s speaking practice. Let's begin again.", strings.ToUpper(examType)),
		FallbackLine:     examFallback,
		OnFinish: func(a Answers) error {
			return s.finishExam(a, university)
		},
		OnProgress: s.persistProgress,
	}

	ctrl, err := NewTurnController(cfg, channel, opts.Timer)
	if err != nil {
		return nil, fmt.Errorf("failed to create exam session: %w", err)
	}
	s.controller = ctrl
	if opts.Resume != nil {
		ctrl.restore(*opts.Resume)
	}
	return s, nil
}

func applySessionOptions(options []SessionOption) SessionOpts {
	var opts SessionOpts
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// applyTransport records channel metadata, falling back to what the resume
// snapshot saved.
func (s *Session) applyTransport(opts SessionOpts) {
	s.transport = opts.Channel
	s.phoneNumber = opts.PhoneNumber
	if opts.Resume != nil {
		if s.transport == "" {
			s.transport = opts.Resume.Channel
		}
		if s.phoneNumber == "" {
			s.phoneNumber = opts.Resume.PhoneNumber
		}
	}
}

func sessionID(opts SessionOpts) string {
	if opts.Resume != nil && opts.Resume.ID != "" {
		return opts.Resume.ID
	}
	if opts.ID != "" {
		return opts.ID
	}
	return uuid.NewString()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ParticipantID returns the participant the session belongs to.
func (s *Session) ParticipantID() string { return s.participantID }

// Flow returns the session's flow type.
func (s *Session) Flow() models.FlowType { return s.flow }

// ExamType returns the exam type for exam sessions, empty otherwise.
func (s *Session) ExamType() string { return s.examType }

// Start begins the conversation.
func (s *Session) Start(ctx context.Context) error {
	slog.Info("Session starting", "session", s.id, "participant", s.participantID, "flow", s.flow)
	return s.controller.Start(ctx)
}

// Restart resets the conversation to the first question.
func (s *Session) Restart() error {
	slog.Info("Session restarting", "session", s.id, "flow", s.flow)
	return s.controller.Restart()
}

// RepeatQuestion re-speaks the current question.
func (s *Session) RepeatQuestion() error { return s.controller.RepeatQuestion() }

// Close tears the session down. Idempotent.
func (s *Session) Close() { s.controller.Close() }

// Done is closed once the session reaches its terminal phase.
func (s *Session) Done() <-chan struct{} { return s.controller.Done() }

// Err reports the terminal error, if any, after Done is closed.
func (s *Session) Err() error { return s.controller.Err() }

// Phase returns the current session phase.
func (s *Session) Phase() models.SessionPhase { return s.controller.Phase() }

// CurrentIndex returns the current question index.
func (s *Session) CurrentIndex() int { return s.controller.CurrentIndex() }

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []models.TranscriptEntry { return s.controller.Transcript() }

// Answers returns a copy of the answers collected so far.
func (s *Session) Answers() Answers { return s.controller.Answers() }

// Snapshot captures the session's persistable state.
func (s *Session) Snapshot() models.SessionSnapshot {
	a := s.controller.Answers()
	return models.SessionSnapshot{
		ID:            s.id,
		ParticipantID: s.participantID,
		Flow:          s.flow,
		ExamType:      s.examType,
		University:    s.university,
		Channel:       s.transport,
		PhoneNumber:   s.phoneNumber,
		CurrentIndex:  s.controller.CurrentIndex(),
		Profile:       a.Profile,
		Responses:     a.Responses,
		Transcript:    s.controller.Transcript(),
	}
}

// persistProgress saves a snapshot after each accepted answer so a crashed
// daemon can resume the session mid-interview.
func (s *Session) persistProgress(p Progress) {
	if s.store == nil {
		return
	}
	snap := models.SessionSnapshot{
		ID:            s.id,
		ParticipantID: s.participantID,
		Flow:          s.flow,
		ExamType:      s.examType,
		University:    s.university,
		Channel:       s.transport,
		PhoneNumber:   s.phoneNumber,
		CurrentIndex:  p.Index,
		Profile:       p.Profile,
		Responses:     p.Responses,
		Transcript:    p.Transcript,
	}
	// Persistence must not depend on a caller context that may already be
	// cancelled mid-teardown.
	if err := s.store.SaveSessionSnapshot(context.Background(), snap); err != nil {
		slog.Warn("Session failed to persist snapshot", "session", s.id, "error", err)
	}
}

func (s *Session) finishOnboarding(a Answers) error {
	if s.store == nil {
		return nil
	}
	ctx := context.Background()
	if err := s.store.SaveVoiceProfile(ctx, s.participantID, a.Profile); err != nil {
		return fmt.Errorf("failed to save voice profile: %w", err)
	}
	if err := s.store.DeleteSessionSnapshot(ctx, s.id); err != nil {
		slog.Warn("Session failed to delete snapshot", "session", s.id, "error", err)
	}
	slog.Info("Session saved voice profile", "session", s.id, "participant", s.participantID, "fields", len(a.Profile))
	return nil
}

func (s *Session) finishExam(a Answers, university string) error {
	if s.store == nil {
		return nil
	}
	result := models.ExamResult{
		ExamType:   s.examType,
		University: university,
		Responses:  a.Responses,
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid exam result: %w", err)
	}
	ctx := context.Background()
	if err := s.store.SaveExamResult(ctx, s.participantID, result); err != nil {
		return fmt.Errorf("failed to save exam result: %w", err)
	}
	if err := s.store.DeleteSessionSnapshot(ctx, s.id); err != nil {
		slog.Warn("Session failed to delete snapshot", "session", s.id, "error", err)
	}
	slog.Info("Session saved exam result", "session", s.id, "participant", s.participantID, "examType", s.examType, "responses", len(a.Responses))
	return nil
}
