package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// Constants for the OpenAI speech channel configuration.
const (
	// DefaultLocale is the fixed recognition locale.
	DefaultLocale = "en"
	// DefaultAPIRetries bounds retries of transient OpenAI API failures.
	DefaultAPIRetries = 3
)

// AudioIO abstracts the host audio device pair the channel plays to and
// records from.
type AudioIO interface {
	// Play renders synthesized audio and returns when playback completes.
	Play(ctx context.Context, audio io.Reader) error
	// Record captures one utterance worth of audio. The reader is closed by
	// the caller when the attempt concludes.
	Record(ctx context.Context) (io.ReadCloser, error)
}

// Opts holds configuration options for the OpenAI speech channel.
type Opts struct {
	APIKey string
	Voice  openai.AudioSpeechNewParamsVoice
	Audio  AudioIO
}

// Option defines a configuration option for the OpenAI speech channel.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoice sets the synthesis voice.
func WithVoice(voice openai.AudioSpeechNewParamsVoice) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithAudioIO sets the host audio device pair.
func WithAudioIO(audio AudioIO) Option {
	return func(o *Opts) { o.Audio = audio }
}

// OpenAIChannel implements Channel using the OpenAI audio endpoints:
// Audio.Speech for synthesis and Audio.Transcriptions (single utterance,
// final result only) for recognition.
type OpenAIChannel struct {
	client openai.Client
	voice  openai.AudioSpeechNewParamsVoice
	audio  AudioIO

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the active recognition attempt
	closed bool
}

// NewOpenAIChannel creates an OpenAI-backed speech channel. A missing audio
// device pair is the unsupported-environment condition: the flow must not
// start, so construction fails immediately.
func NewOpenAIChannel(opts ...Option) (*OpenAIChannel, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Audio == nil {
		slog.Error("OpenAIChannel requires an audio device pair")
		return nil, models.ErrRecognizerUnsupported
	}
	if cfg.Voice == "" {
		cfg.Voice = openai.AudioSpeechNewParamsVoiceAlloy
	}

	slog.Debug("Creating OpenAI speech channel", "voice", cfg.Voice)
	return &OpenAIChannel{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		voice:  cfg.Voice,
		audio:  cfg.Audio,
	}, nil
}

// Speak synthesizes text and plays it back, returning when playback ends.
func (c *OpenAIChannel) Speak(ctx context.Context, text string) error {
	slog.Debug("OpenAIChannel Speak invoked", "text_length", len(text))

	var body io.ReadCloser
	err := retry.Do(func() error {
		resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Model:          openai.SpeechModelTTS1,
			Voice:          c.voice,
			Input:          text,
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		})
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	}, retry.Attempts(DefaultAPIRetries), retry.Context(ctx), retry.LastErrorOnly(true))
	if err != nil {
		slog.Error("OpenAIChannel synthesis failed", "error", err)
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer body.Close()

	if err := c.audio.Play(ctx, body); err != nil {
		slog.Error("OpenAIChannel playback failed", "error", err)
		return fmt.Errorf("failed to play synthesized speech: %w", err)
	}
	slog.Debug("OpenAIChannel Speak completed")
	return nil
}

// Listen records one utterance, transcribes it, and delivers exactly one
// terminal event.
func (c *OpenAIChannel) Listen(ctx context.Context) (<-chan RecognitionEvent, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("speech channel is closed")
	}
	// A new attempt replaces any previous one.
	if c.cancel != nil {
		c.cancel()
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	events := make(chan RecognitionEvent, 1)
	go func() {
		defer close(events)
		defer cancel()

		recording, err := c.audio.Record(attemptCtx)
		if err != nil {
			slog.Warn("OpenAIChannel recording failed", "error", err)
			events <- RecognitionEvent{Kind: EventError, Err: err}
			return
		}
		defer recording.Close()

		transcription, err := c.client.Audio.Transcriptions.New(attemptCtx, openai.AudioTranscriptionNewParams{
			Model:    openai.AudioModelWhisper1,
			File:     recording,
			Language: openai.String(DefaultLocale),
		})
		if err != nil {
			if attemptCtx.Err() != nil {
				// Aborted attempt ends without a result.
				events <- RecognitionEvent{Kind: EventEnd}
				return
			}
			slog.Warn("OpenAIChannel transcription failed", "error", err)
			events <- RecognitionEvent{Kind: EventError, Err: err}
			return
		}

		text := strings.TrimSpace(transcription.Text)
		if text == "" {
			events <- RecognitionEvent{Kind: EventEnd}
			return
		}
		slog.Debug("OpenAIChannel transcription received", "text_length", len(text))
		events <- RecognitionEvent{Kind: EventResult, Text: text}
	}()

	return events, nil
}

// Abort cancels the active recognition attempt, if any.
func (c *OpenAIChannel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Close aborts any active attempt and marks the channel closed.
func (c *OpenAIChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.closed = true
	return nil
}
