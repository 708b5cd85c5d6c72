// Package telephony runs interviews over Twilio Programmable Voice. An
// outbound call is placed per session; synthesis is delivered as TwiML
// <Say> verbs and recognition uses <Gather input="speech"> webhooks.
package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Caller places outbound calls, satisfied by Client and by mocks in tests.
type Caller interface {
	PlaceCall(ctx context.Context, to, callbackURL string) (string, error)
}

// Opts holds configuration options for the Twilio voice client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio voice client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the caller ID number in E.164 format.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for voice calls.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewClient creates a Twilio voice client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio voice client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromNumber: cfg.FromNumber}, nil
}

// PlaceCall starts an outbound call whose call flow is driven by TwiML
// fetched from callbackURL. Returns the Twilio call SID.
func (c *Client) PlaceCall(ctx context.Context, to, callbackURL string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetUrl(callbackURL)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio PlaceCall failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to place call to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("Twilio call placed", "to", to, "sid", sid)
	return sid, nil
}

// MockCaller implements Caller for tests.
type MockCaller struct {
	mu    sync.Mutex
	Calls []PlacedCall
	Err   error
}

// PlacedCall records one PlaceCall invocation.
type PlacedCall struct {
	To          string
	CallbackURL string
}

// NewMockCaller creates a MockCaller.
func NewMockCaller() *MockCaller {
	return &MockCaller{}
}

// PlaceCall records the call and returns a synthetic SID.
func (m *MockCaller) PlaceCall(ctx context.Context, to, callbackURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Calls = append(m.Calls, PlacedCall{To: to, CallbackURL: callbackURL})
	return fmt.Sprintf("CA%016d", len(m.Calls)), nil
}
