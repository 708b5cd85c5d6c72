package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/speech"
)

// Answers is everything a finished session collected: a keyed profile for
// onboarding catalogs, positional question/answer pairs for exam catalogs.
type Answers struct {
	Profile   models.VoiceProfile
	Responses []models.ExamResponse
}

// Progress is the engine's state after an accepted answer, handed to the
// OnProgress hook for persistence.
type Progress struct {
	Index      int
	Profile    models.VoiceProfile
	Responses  []models.ExamResponse
	Transcript []models.TranscriptEntry
}

// Config parameterizes a TurnController. The onboarding and exam flows are
// the same engine with different catalogs, timeouts, validators, and
// finalization.
type Config struct {
	Catalog        Catalog
	SilenceTimeout time.Duration

	// Validator, when set, can reject an answer and have the question
	// re-asked with a reprompt prefix (exam short-answer rule).
	Validator AnswerValidator

	// MaxSilentRetries bounds consecutive no-input attempts on one
	// question. Zero means retry forever, which matches the observed
	// product behavior.
	MaxSilentRetries int

	WelcomeLine  string
	ClosingLine  string
	RestartLine  string
	FallbackLine string

	// OnFinish externalizes the collected answers. Called exactly once,
	// before the closing line is spoken.
	OnFinish func(Answers) error

	// OnProgress is called after every accepted answer.
	OnProgress func(Progress)
}

// TurnController drives the ask-listen-advance cycle over a speech channel.
//
// All mutable state is guarded by mu and mutated only by controller methods;
// speech callbacks and timers call back into the controller rather than
// touching state directly. Stale callbacks from a superseded attempt are
// rejected by a generation counter.
type TurnController struct {
	cfg     Config
	channel speech.Channel
	timer   Timer

	mu             sync.Mutex
	ctx            context.Context
	cancelCtx      context.CancelFunc
	started        bool
	finished       bool
	gen            uint64
	index          int
	lastAsked      int
	phase          models.SessionPhase
	recognizing    bool
	attemptSeq     uint64
	silenceTimerID string
	silentRetries  int
	transcript     []models.TranscriptEntry
	profile        models.VoiceProfile
	responses      []models.ExamResponse

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewTurnController creates a controller for the given catalog and channel.
// A nil channel is the unsupported-environment condition and is fatal.
func NewTurnController(cfg Config, channel speech.Channel, timer Timer) (*TurnController, error) {
	if channel == nil {
		return nil, models.ErrRecognizerUnsupported
	}
	if cfg.Catalog.Len() == 0 {
		return nil, fmt.Errorf("catalog has no questions")
	}
	if cfg.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("silence timeout must be positive, got %v", cfg.SilenceTimeout)
	}
	if timer == nil {
		timer = NewSimpleTimer()
	}
	return &TurnController{
		cfg:       cfg,
		channel:   channel,
		timer:     timer,
		lastAsked: -1,
		phase:     models.PhaseAgentSpeaking,
		profile:   make(models.VoiceProfile),
		done:      make(chan struct{}),
	}, nil
}

// Start begins the conversation: welcome announcement, then question at the
// current index. It returns immediately; progress is observable through
// Done, Phase, and Transcript.
func (c *TurnController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("turn controller already started")
	}
	c.started = true
	c.ctx, c.cancelCtx = context.WithCancel(ctx)
	gen := c.gen
	c.mu.Unlock()

	slog.Info("TurnController starting", "catalog", c.cfg.Catalog.Name, "questions", c.cfg.Catalog.Len(), "resume_index", c.CurrentIndex())
	go c.announceAndAsk(gen, c.cfg.WelcomeLine)
	return nil
}

// Restart resets the session to question 0 from any non-terminal state,
// clearing the transcript and all accumulated answers. Stale callbacks from
// the interrupted attempt are neutralized by the generation bump.
func (c *TurnController) Restart() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("turn controller not started")
	}
	if c.finished {
		c.mu.Unlock()
		return models.ErrSessionFinished
	}
	c.gen++
	gen := c.gen
	c.clearSilenceTimerLocked()
	c.recognizing = false
	c.index = 0
	c.lastAsked = -1
	c.silentRetries = 0
	c.transcript = nil
	c.profile = make(models.VoiceProfile)
	c.responses = nil
	c.phase = models.PhaseAgentSpeaking
	c.mu.Unlock()

	c.channel.Abort()
	slog.Info("TurnController restarting", "catalog", c.cfg.Catalog.Name)
	go c.announceAndAsk(gen, c.cfg.RestartLine)
	return nil
}

// RepeatQuestion re-speaks the current question without touching the index
// or stored answers. The active recognition attempt, if any, is cancelled
// first so at most one attempt ever exists.
func (c *TurnController) RepeatQuestion() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("turn controller not started")
	}
	if c.finished {
		c.mu.Unlock()
		return models.ErrSessionFinished
	}
	c.gen++
	gen := c.gen
	c.clearSilenceTimerLocked()
	c.recognizing = false
	c.phase = models.PhaseAgentSpeaking
	c.mu.Unlock()

	c.channel.Abort()
	go c.repeatCurrent(gen)
	return nil
}

// Close cancels all pending speech, recognition, and timers, and makes the
// session terminal: Done completes with context.Canceled unless the session
// already finished on its own. Idempotent.
func (c *TurnController) Close() {
	c.mu.Lock()
	c.gen++
	c.finished = true
	c.phase = models.PhaseFinished
	c.clearSilenceTimerLocked()
	c.recognizing = false
	cancel := c.cancelCtx
	c.mu.Unlock()

	c.channel.Abort()
	if cancel != nil {
		cancel()
	}
	c.timer.Stop()

	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = context.Canceled
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once the session reaches its terminal phase.
func (c *TurnController) Done() <-chan struct{} { return c.done }

// Err reports the terminal error, if any, after Done is closed.
func (c *TurnController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Phase returns the current session phase.
func (c *TurnController) Phase() models.SessionPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CurrentIndex returns the current question index. It is monotonic
// non-decreasing within a session except on explicit restart.
func (c *TurnController) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Transcript returns a copy of the transcript so far.
func (c *TurnController) Transcript() []models.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Answers returns a copy of the accumulated answers.
func (c *TurnController) Answers() Answers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answersLocked()
}

func (c *TurnController) answersLocked() Answers {
	profile := make(models.VoiceProfile, len(c.profile))
	for k, v := range c.profile {
		profile[k] = v
	}
	responses := make([]models.ExamResponse, len(c.responses))
	copy(responses, c.responses)
	return Answers{Profile: profile, Responses: responses}
}

// restore seeds the controller from a persisted snapshot before Start.
// Used by session recovery.
func (c *TurnController) restore(snap models.SessionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	if snap.CurrentIndex > 0 && snap.CurrentIndex <= c.cfg.Catalog.Len() {
		c.index = snap.CurrentIndex
		c.lastAsked = snap.CurrentIndex - 1
	}
	for k, v := range snap.Profile {
		c.profile[k] = v
	}
	c.responses = append(c.responses, snap.Responses...)
	c.transcript = append(c.transcript, snap.Transcript...)
}

// stale reports whether a callback belongs to a superseded attempt. Callers
// must hold mu.
func (c *TurnController) staleLocked(gen uint64) bool {
	return gen != c.gen || c.finished
}

func (c *TurnController) clearSilenceTimerLocked() {
	if c.silenceTimerID != "" {
		_ = c.timer.Cancel(c.silenceTimerID)
		c.silenceTimerID = ""
	}
}

// announceAndAsk speaks an optional announcement, then asks the current
// question. Runs on a dedicated turn goroutine.
func (c *TurnController) announceAndAsk(gen uint64, announcement string) {
	if announcement != "" && !c.speak(gen, announcement) {
		return
	}
	c.askCurrent(gen)
}

// speak synthesizes one utterance for the given attempt generation. Returns
// false when the attempt has been superseded. Synthesis failures are logged
// and treated as completed speech so the turn can still reach listening.
func (c *TurnController) speak(gen uint64, text string) bool {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return false
	}
	c.phase = models.PhaseAgentSpeaking
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.channel.Speak(ctx, text); err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("TurnController synthesis failed, continuing to listen", "error", err)
	}
	return true
}

// askCurrent speaks the question at the current index (appending it to the
// transcript on first ask) and starts listening, or finishes the session
// when the catalog is exhausted.
func (c *TurnController) askCurrent(gen uint64) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	if c.index >= c.cfg.Catalog.Len() {
		c.mu.Unlock()
		c.finish(gen)
		return
	}
	q := c.cfg.Catalog.Questions[c.index]
	line := SpokenPrompt(q)
	if c.lastAsked != c.index {
		c.transcript = append(c.transcript, models.TranscriptEntry{Role: models.RoleAgent, Text: line})
		c.lastAsked = c.index
	}
	c.mu.Unlock()

	if !c.speak(gen, line) {
		return
	}
	c.startListening(gen)
}

// repeatCurrent re-speaks the current question without a transcript entry,
// then listens again.
func (c *TurnController) repeatCurrent(gen uint64) {
	if !c.speakCurrentPrompt(gen) {
		return
	}
	c.startListening(gen)
}

// speakCurrentPrompt re-speaks the question at the current index without a
// transcript entry. Returns false when the attempt has been superseded or
// the catalog is exhausted.
func (c *TurnController) speakCurrentPrompt(gen uint64) bool {
	c.mu.Lock()
	if c.staleLocked(gen) || c.index >= c.cfg.Catalog.Len() {
		c.mu.Unlock()
		return false
	}
	line := SpokenPrompt(c.cfg.Catalog.Questions[c.index])
	c.mu.Unlock()

	return c.speak(gen, line)
}

// startListening opens a recognition attempt. A channel that fails Listen is
// treated as no input and retried in a loop, not recursively, so a
// persistently failing channel cannot grow the stack.
func (c *TurnController) startListening(gen uint64) {
	for {
		err := c.listen(gen)
		if err == nil {
			return
		}
		slog.Warn("TurnController failed to start recognition, treating as no input", "error", err)
		if !c.noInputPrompt(gen, "listen_error") {
			return
		}
	}
}

// listen starts a single recognition attempt guarded by the silence timer.
// Exactly one of three outcomes ends the attempt: a result, an engine-level
// end/error, or the timer firing. A non-nil error means no attempt started
// and the caller decides how to retry.
func (c *TurnController) listen(gen uint64) error {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return nil
	}
	if c.recognizing {
		// Never two concurrent attempts.
		c.mu.Unlock()
		return nil
	}
	c.recognizing = true
	c.phase = models.PhaseListening
	ctx := c.ctx
	c.mu.Unlock()

	events, err := c.channel.Listen(ctx)
	if err != nil {
		c.mu.Lock()
		c.recognizing = false
		c.phase = models.PhaseAgentSpeaking
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.staleLocked(gen) {
		c.recognizing = false
		c.mu.Unlock()
		c.channel.Abort()
		return nil
	}
	c.clearSilenceTimerLocked()
	c.attemptSeq++
	seq := c.attemptSeq
	id, terr := c.timer.ScheduleAfter(c.cfg.SilenceTimeout, func() { c.onSilence(gen, seq) })
	if terr != nil {
		slog.Error("TurnController failed to arm silence timer", "error", terr)
	}
	c.silenceTimerID = id
	c.mu.Unlock()

	go func() {
		for ev := range events {
			c.onEvent(gen, ev)
		}
	}()
	return nil
}

// onSilence fires when the silence timer elapses before any recognition
// event arrives. The attempt sequence check rejects a timer that outlived
// its own attempt even if the timer backend failed to cancel it.
func (c *TurnController) onSilence(gen, seq uint64) {
	c.mu.Lock()
	if c.staleLocked(gen) || !c.recognizing || seq != c.attemptSeq {
		c.mu.Unlock()
		return
	}
	c.recognizing = false
	c.silenceTimerID = ""
	c.mu.Unlock()

	c.channel.Abort()
	slog.Debug("TurnController silence timeout", "index", c.CurrentIndex())
	c.handleNoInput(gen, "silence_timeout")
}

// onEvent handles a terminal recognition event for the given attempt.
func (c *TurnController) onEvent(gen uint64, ev speech.RecognitionEvent) {
	c.mu.Lock()
	if c.staleLocked(gen) || !c.recognizing {
		c.mu.Unlock()
		return
	}
	c.clearSilenceTimerLocked()
	c.recognizing = false

	switch ev.Kind {
	case speech.EventResult:
		c.phase = models.PhaseAwaitingResult
		c.mu.Unlock()
		c.channel.Abort()
		c.handleResult(gen, ev.Text)
	case speech.EventError:
		c.mu.Unlock()
		slog.Warn("TurnController recognition error, treating as no input", "error", ev.Err)
		c.handleNoInput(gen, "recognition_error")
	default:
		c.mu.Unlock()
		c.handleNoInput(gen, "empty_end")
	}
}

// handleNoInput speaks the fallback line, re-speaks the same question, and
// listens again. The index never advances on this path.
func (c *TurnController) handleNoInput(gen uint64, reason string) {
	if !c.noInputPrompt(gen, reason) {
		return
	}
	c.startListening(gen)
}

// noInputPrompt runs the fallback for an attempt that produced nothing:
// count the retry, give up past the cap, otherwise speak the fallback line
// and re-ask the current question. Reports whether listening should resume.
func (c *TurnController) noInputPrompt(gen uint64, reason string) bool {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return false
	}
	c.silentRetries++
	retries := c.silentRetries
	c.phase = models.PhaseAgentSpeaking
	c.mu.Unlock()

	if c.cfg.MaxSilentRetries > 0 && retries >= c.cfg.MaxSilentRetries {
		slog.Error("TurnController giving up after repeated silence", "retries", retries, "reason", reason)
		c.abort(gen, models.ErrNoSpeechDetected)
		return false
	}

	slog.Debug("TurnController repeating question after no input", "reason", reason, "retries", retries)
	if !c.speak(gen, c.cfg.FallbackLine) {
		return false
	}
	return c.speakCurrentPrompt(gen)
}

// handleResult validates, normalizes, and records a recognized answer, then
// advances to the next question or finishes.
func (c *TurnController) handleResult(gen uint64, text string) {
	trimmed := strings.TrimSpace(text)

	if c.cfg.Validator != nil {
		if ok, reprompt := c.cfg.Validator(trimmed); !ok {
			c.mu.Lock()
			if c.staleLocked(gen) {
				c.mu.Unlock()
				return
			}
			line := reprompt + " " + SpokenPrompt(c.cfg.Catalog.Questions[c.index])
			c.phase = models.PhaseAgentSpeaking
			c.mu.Unlock()

			slog.Debug("TurnController rejected answer, re-asking", "index", c.CurrentIndex())
			if !c.speak(gen, line) {
				return
			}
			c.startListening(gen)
			return
		}
	}

	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	q := c.cfg.Catalog.Questions[c.index]
	c.transcript = append(c.transcript, models.TranscriptEntry{Role: models.RoleRespondent, Text: trimmed})
	if q.Key != "" {
		c.profile[q.Key] = Normalize(text, q.Key)
	} else {
		c.responses = append(c.responses, models.ExamResponse{Question: q.Prompt, Answer: trimmed})
	}
	c.index++
	c.silentRetries = 0
	finished := c.index >= c.cfg.Catalog.Len()
	var progress Progress
	if c.cfg.OnProgress != nil {
		answers := c.answersLocked()
		transcript := make([]models.TranscriptEntry, len(c.transcript))
		copy(transcript, c.transcript)
		progress = Progress{Index: c.index, Profile: answers.Profile, Responses: answers.Responses, Transcript: transcript}
	}
	if !finished {
		c.phase = models.PhaseAgentSpeaking
	}
	c.mu.Unlock()

	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(progress)
	}

	if finished {
		c.finish(gen)
		return
	}
	c.askCurrent(gen)
}

// finish transitions to the terminal phase, hands the answers off, and
// speaks the closing line. Runs at most once per session.
func (c *TurnController) finish(gen uint64) {
	c.mu.Lock()
	if c.finished || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.phase = models.PhaseFinished
	c.gen++
	c.clearSilenceTimerLocked()
	c.recognizing = false
	answers := c.answersLocked()
	ctx := c.ctx
	c.mu.Unlock()

	c.channel.Abort()
	slog.Info("TurnController finished", "catalog", c.cfg.Catalog.Name, "answers", len(answers.Profile)+len(answers.Responses))

	var finishErr error
	if c.cfg.OnFinish != nil {
		finishErr = c.cfg.OnFinish(answers)
		if finishErr != nil {
			slog.Error("TurnController handoff failed", "error", finishErr)
		}
	}
	if c.cfg.ClosingLine != "" {
		if err := c.channel.Speak(ctx, c.cfg.ClosingLine); err != nil && ctx.Err() == nil {
			slog.Warn("TurnController closing line failed", "error", err)
		}
	}

	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = finishErr
		c.mu.Unlock()
		close(c.done)
	})
}

// abort terminates the session without a handoff write.
func (c *TurnController) abort(gen uint64, cause error) {
	c.mu.Lock()
	if c.finished || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.phase = models.PhaseFinished
	c.gen++
	c.clearSilenceTimerLocked()
	c.recognizing = false
	c.mu.Unlock()

	c.channel.Abort()
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
	})
}
