package telephony

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/speech"
)

func TestTwiMLRender(t *testing.T) {
	resp := TwiMLResponse{
		Says:   []Say{NewSay("What is your major?")},
		Gather: NewGather("/twilio/gather?session=s1"),
	}
	out, err := resp.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := string(out)
	for _, want := range []string{
		"<?xml",
		"<Response>",
		`<Say voice="Polly.Joanna">What is your major?</Say>`,
		`input="speech"`,
		`action="/twilio/gather?session=s1"`,
		`method="POST"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("TwiML missing %q:\n%s", want, doc)
		}
	}
	if strings.Index(doc, "<Say") > strings.Index(doc, "<Gather") {
		t.Error("Say must precede Gather")
	}
}

func TestTwiMLRenderHangup(t *testing.T) {
	out, err := TwiMLResponse{Hangup: &Hangup{}}.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(string(out), "<Hangup>") {
		t.Errorf("missing Hangup verb:\n%s", out)
	}
}

func TestCallChannelSpeakRenderedByWebhook(t *testing.T) {
	c := NewCallChannel("/gather")
	spoke := make(chan error, 1)
	go func() {
		spoke <- c.Speak(context.Background(), "Welcome to AI voice onboarding. Shall we begin?")
	}()

	resp := c.NextTwiML(context.Background(), "/voice")
	if len(resp.Says) != 1 || !strings.Contains(resp.Says[0].Text, "Welcome") {
		t.Fatalf("webhook response = %+v", resp)
	}
	if resp.Redirect == nil || resp.Gather != nil {
		t.Errorf("non-listening response should redirect, got %+v", resp)
	}

	select {
	case err := <-spoke:
		if err != nil {
			t.Errorf("Speak returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Speak never unblocked after rendering")
	}
}

func TestCallChannelListeningProducesGather(t *testing.T) {
	c := NewCallChannel("/gather")
	events, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	resp := c.NextTwiML(context.Background(), "/voice")
	if resp.Gather == nil || resp.Gather.Action != "/gather" {
		t.Fatalf("listening response lacks gather: %+v", resp)
	}

	c.HandleGatherResult("I completed my bachelors degree")
	select {
	case ev := <-events:
		if ev.Kind != speech.EventResult || !strings.Contains(ev.Text, "bachelors") {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("gather result never delivered")
	}
}

func TestCallChannelEmptyGatherEndsAttempt(t *testing.T) {
	c := NewCallChannel("/gather")
	events, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	c.HandleGatherResult("")

	select {
	case ev := <-events:
		if ev.Kind != speech.EventEnd {
			t.Errorf("event = %+v, want end without result", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("empty gather never delivered")
	}
}

func TestCallChannelAbortDropsAttempt(t *testing.T) {
	c := NewCallChannel("/gather")
	events, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	c.Abort()

	if ev, open := <-events; open {
		t.Errorf("aborted attempt delivered %+v", ev)
	}
	// A late gather result is ignored.
	c.HandleGatherResult("too late")
}

func TestCallChannelCloseHangsUpAndUnblocksSpeak(t *testing.T) {
	c := NewCallChannel("/gather")
	spoke := make(chan error, 1)
	go func() {
		spoke <- c.Speak(context.Background(), "hello")
	}()
	time.Sleep(10 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-spoke:
	case <-time.After(time.Second):
		t.Fatal("Speak never unblocked after Close")
	}

	resp := c.NextTwiML(context.Background(), "/voice")
	if resp.Hangup == nil {
		t.Errorf("closed channel webhook = %+v, want hangup", resp)
	}
}

func TestCallChannelWebhookCancelledContext(t *testing.T) {
	c := NewCallChannel("/gather")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := c.NextTwiML(ctx, "/voice")
	if resp.Hangup == nil {
		t.Errorf("cancelled webhook = %+v, want hangup", resp)
	}
}

func TestMockCaller(t *testing.T) {
	m := NewMockCaller()
	sid, err := m.PlaceCall(context.Background(), "+15551234567", "https://example.com/voice")
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if sid == "" {
		t.Error("empty call SID")
	}
	if len(m.Calls) != 1 || m.Calls[0].To != "+15551234567" {
		t.Errorf("calls = %+v", m.Calls)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("NewClient without credentials succeeded")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret")); err == nil {
		t.Error("NewClient without from number succeeded")
	}
}
