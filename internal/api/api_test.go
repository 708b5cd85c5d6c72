package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/genai"
	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/store"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
)

const testWait = 5 * time.Second

// recordingSender captures outbound WhatsApp messages.
type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, body)
	return nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  store.Store
	caller *telephony.MockCaller
	sender *recordingSender
	ai     *genai.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	caller := telephony.NewMockCaller()
	sender := &recordingSender{}
	ai := &genai.MockClient{Response: "Strong performance overall."}

	s := NewServer(st,
		WithAddr("127.0.0.1:0"),
		WithPublicURL("http://voiceintake.test"),
		WithCaller(caller),
		WithSender(sender),
		WithGenAI(ai),
	)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { s.closeAllSessions() })

	return &testEnv{server: s, http: ts, store: st, caller: caller, sender: sender, ai: ai}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) (*http.Response, models.APIResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, models.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var env models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return env
}

func resultAs(t *testing.T, env models.APIResponse, out interface{}) {
	t.Helper()
	data, err := json.Marshal(env.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

// waitForState polls the session endpoint until cond is satisfied.
func (e *testEnv) waitForState(t *testing.T, id string, cond func(sessionState) bool) sessionState {
	t.Helper()
	deadline := time.Now().Add(testWait)
	var last sessionState
	for time.Now().Before(deadline) {
		resp, env := e.do(t, http.MethodGet, "/sessions/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /sessions/%s = %d", id, resp.StatusCode)
		}
		resultAs(t, env, &last)
		if cond(last) {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached expected state, last: %+v", id, last)
	return last
}

func listeningAt(index int) func(sessionState) bool {
	return func(st sessionState) bool {
		return st.Phase == models.PhaseListening && st.CurrentIndex == index
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  createSessionRequest
		code int
	}{
		{"invalid flow", createSessionRequest{ParticipantID: "p1", Flow: "karaoke", Channel: ChannelWhatsApp, PhoneNumber: "15550001111"}, http.StatusBadRequest},
		{"missing phone", createSessionRequest{ParticipantID: "p1", Flow: models.FlowTypeOnboarding, Channel: ChannelWhatsApp}, http.StatusBadRequest},
		{"unknown channel", createSessionRequest{ParticipantID: "p1", Flow: models.FlowTypeOnboarding, Channel: "carrier-pigeon", PhoneNumber: "15550001111"}, http.StatusBadRequest},
		{"missing participant", createSessionRequest{Flow: models.FlowTypeOnboarding, Channel: ChannelWhatsApp, PhoneNumber: "15550001111"}, http.StatusBadRequest},
		{"unknown exam type", createSessionRequest{ParticipantID: "p1", Flow: models.FlowTypeExam, ExamType: "sat", Channel: ChannelWhatsApp, PhoneNumber: "15550001111"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, env2 := env.postJSON(t, "/sessions", tc.req)
			if resp.StatusCode != tc.code {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tc.code, env2.Message)
			}
		})
	}
}

func TestPhoneSessionsUnavailableWithoutCaller(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	s := NewServer(st, WithPublicURL("http://voiceintake.test"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(createSessionRequest{
		ParticipantID: "p1", Flow: models.FlowTypeOnboarding,
		Channel: ChannelPhone, PhoneNumber: "+15550001111",
	})
	resp, err := http.Post(ts.URL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWhatsAppOnboardingLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, created := env.postJSON(t, "/sessions", createSessionRequest{
		ParticipantID: "student-7",
		Flow:          models.FlowTypeOnboarding,
		Channel:       ChannelWhatsApp,
		PhoneNumber:   "15550001111",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", resp.StatusCode, created.Message)
	}
	var st sessionState
	resultAs(t, created, &st)
	if st.ID == "" || st.Flow != models.FlowTypeOnboarding {
		t.Fatalf("created state = %+v", st)
	}

	answers := []string{
		"I completed my bachelors", "2024", "computer science", "8.5",
		"masters", "artificial intelligence", "fall 2026", "USA and Germany",
		"somewhere around 40k", "family support", "completed", "in progress",
	}
	for i, a := range answers {
		env.waitForState(t, st.ID, listeningAt(i))
		resp, _ := env.postJSON(t, "/whatsapp/incoming", incomingMessageRequest{From: "15550001111", Body: a})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("incoming message %d status = %d", i, resp.StatusCode)
		}
	}

	final := env.waitForState(t, st.ID, func(s sessionState) bool {
		return s.Phase == models.PhaseFinished
	})
	if got := final.Profile["educationLevel"]; got.Text != "Bachelor's Degree" {
		t.Errorf("educationLevel = %+v", got)
	}
	if len(final.Transcript) == 0 {
		t.Error("finished session lost its transcript")
	}

	// The finished profile is consumable exactly once through prefill.
	resp, env2 := env.postJSON(t, "/participants/student-7/prefill", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prefill status = %d (%s)", resp.StatusCode, env2.Message)
	}
	var form struct {
		EducationLevel     string   `json:"educationLevel"`
		PreferredCountries []string `json:"preferredCountries"`
	}
	resultAs(t, env2, &form)
	if form.EducationLevel != "Bachelor's Degree" {
		t.Errorf("prefilled educationLevel = %q", form.EducationLevel)
	}
	if len(form.PreferredCountries) != 2 {
		t.Errorf("prefilled countries = %v", form.PreferredCountries)
	}

	resp, _ = env.postJSON(t, "/participants/student-7/prefill", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second prefill status = %d, want 404", resp.StatusCode)
	}

	// Restarting a finished session is rejected.
	resp, _ = env.postJSON(t, "/sessions/"+st.ID+"/restart", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("restart after finish status = %d, want 409", resp.StatusCode)
	}
}

func TestRepeatAndRestartEndpoints(t *testing.T) {
	env := newTestEnv(t)

	_, created := env.postJSON(t, "/sessions", createSessionRequest{
		ParticipantID: "student-8",
		Flow:          models.FlowTypeOnboarding,
		Channel:       ChannelWhatsApp,
		PhoneNumber:   "15550002222",
	})
	var st sessionState
	resultAs(t, created, &st)
	env.waitForState(t, st.ID, listeningAt(0))

	resp, _ := env.postJSON(t, "/sessions/"+st.ID+"/repeat", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat status = %d", resp.StatusCode)
	}
	resp, _ = env.postJSON(t, "/sessions/"+st.ID+"/restart", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("restart status = %d", resp.StatusCode)
	}
	env.waitForState(t, st.ID, listeningAt(0))

	resp, _ = env.postJSON(t, "/sessions/nonexistent/repeat", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)

	_, created := env.postJSON(t, "/sessions", createSessionRequest{
		ParticipantID: "student-9",
		Flow:          models.FlowTypeOnboarding,
		Channel:       ChannelWhatsApp,
		PhoneNumber:   "15550003333",
	})
	var st sessionState
	resultAs(t, created, &st)
	entry, ok := env.server.sessions.get(st.ID)
	if !ok {
		t.Fatal("created session missing from registry")
	}

	resp, _ := env.do(t, http.MethodDelete, "/sessions/"+st.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/sessions/"+st.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}

	// Deleting a live session makes it terminal, so its reaper goroutine
	// exits instead of blocking forever.
	select {
	case <-entry.session.Done():
	case <-time.After(testWait):
		t.Fatal("deleted session never reached its terminal phase")
	}
	if err := entry.session.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("deleted session terminal error = %v, want context.Canceled", err)
	}
}

func TestPhoneExamSessionOverTwilioWebhooks(t *testing.T) {
	env := newTestEnv(t)

	// The discovery surface records the target university first.
	resp, _ := env.do(t, http.MethodPut, "/participants/student-10/exam-context",
		models.ExamContext{University: "TU Munich"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("exam context status = %d", resp.StatusCode)
	}

	resp, created := env.postJSON(t, "/sessions", createSessionRequest{
		ParticipantID: "student-10",
		Flow:          models.FlowTypeExam,
		ExamType:      "ielts",
		Channel:       ChannelPhone,
		PhoneNumber:   "+15550004444",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", resp.StatusCode, created.Message)
	}
	var st sessionState
	resultAs(t, created, &st)

	if len(env.caller.Calls) != 1 || env.caller.Calls[0].To != "+15550004444" {
		t.Fatalf("placed calls = %+v", env.caller.Calls)
	}
	wantCallback := "http://voiceintake.test/twilio/voice/" + st.ID
	if env.caller.Calls[0].CallbackURL != wantCallback {
		t.Errorf("callback URL = %q, want %q", env.caller.Calls[0].CallbackURL, wantCallback)
	}

	// Drive the call the way Twilio would: fetch TwiML until a Gather
	// appears, then post the spoken answer.
	answer := "I would describe my hometown as a lively place with friendly people"
	for i := 0; i < 4; i++ {
		doc := env.fetchTwiMLUntilGather(t, st.ID)
		if !strings.Contains(doc, "/twilio/gather/"+st.ID) {
			t.Fatalf("gather action missing from TwiML:\n%s", doc)
		}
		env.postGather(t, st.ID, answer)
	}

	final := env.waitForState(t, st.ID, func(s sessionState) bool {
		return s.Phase == models.PhaseFinished
	})
	if len(final.Responses) != 4 {
		t.Fatalf("responses = %d, want 4", len(final.Responses))
	}

	// Evaluation consumes the stored result once.
	resp, env2 := env.postJSON(t, "/participants/student-10/evaluate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status = %d (%s)", resp.StatusCode, env2.Message)
	}
	var feedback map[string]string
	resultAs(t, env2, &feedback)
	if feedback["feedback"] != "Strong performance overall." {
		t.Errorf("feedback = %q", feedback["feedback"])
	}
	if env.ai.Calls() != 1 {
		t.Errorf("generations = %d, want 1", env.ai.Calls())
	}

	resp, _ = env.postJSON(t, "/participants/student-10/evaluate", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second evaluate status = %d, want 404", resp.StatusCode)
	}
}

// fetchTwiMLUntilGather polls the voice webhook until the session is ready
// to listen, collecting at most a handful of intermediate documents.
func (e *testEnv) fetchTwiMLUntilGather(t *testing.T, id string) string {
	t.Helper()
	deadline := time.Now().Add(testWait)
	var doc string
	for time.Now().Before(deadline) {
		resp, err := http.Post(e.http.URL+"/twilio/voice/"+id, "application/x-www-form-urlencoded", nil)
		if err != nil {
			t.Fatalf("voice webhook failed: %v", err)
		}
		body := readBody(t, resp)
		if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
			t.Fatalf("voice webhook content type = %q", ct)
		}
		doc = body
		if strings.Contains(doc, "<Gather") {
			return doc
		}
		if strings.Contains(doc, "<Hangup") {
			t.Fatalf("call hung up while waiting for gather:\n%s", doc)
		}
	}
	t.Fatalf("gather never offered, last TwiML:\n%s", doc)
	return ""
}

func (e *testEnv) postGather(t *testing.T, id, speech string) {
	t.Helper()
	form := url.Values{"SpeechResult": {speech}}
	resp, err := http.Post(e.http.URL+"/twilio/gather/"+id,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("gather webhook failed: %v", err)
	}
	readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return buf.String()
}

func TestUnknownCallSessionHangsUp(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.http.URL+"/twilio/voice/nope", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("voice webhook failed: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "<Hangup") {
		t.Errorf("unknown session TwiML = %s", body)
	}
}

func TestResumeSessionContinuesMidInterview(t *testing.T) {
	env := newTestEnv(t)

	snap := models.SessionSnapshot{
		ID:            "resume-1",
		ParticipantID: "student-11",
		Flow:          models.FlowTypeOnboarding,
		Channel:       ChannelWhatsApp,
		PhoneNumber:   "15550005555",
		CurrentIndex:  2,
		Profile: models.VoiceProfile{
			"educationLevel": {Text: "Bachelor's Degree"},
			"graduationYear": {Text: "2024"},
		},
	}
	if err := env.server.ResumeSession(context.Background(), snap); err != nil {
		t.Fatalf("ResumeSession failed: %v", err)
	}

	st := env.waitForState(t, "resume-1", listeningAt(2))
	if st.Profile["educationLevel"].Text != "Bachelor's Degree" {
		t.Errorf("resumed profile = %+v", st.Profile)
	}

	// A live session cannot be resumed twice.
	if err := env.server.ResumeSession(context.Background(), snap); err == nil {
		t.Error("second resume of a live session succeeded")
	}
}

func TestResumeSessionUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	err := env.server.ResumeSession(context.Background(), models.SessionSnapshot{ID: "x", Channel: "fax"})
	if err == nil {
		t.Error("resume with unknown channel succeeded")
	}
}

func TestListExamsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	_, examsEnv := env.do(t, http.MethodGet, "/exams", nil)
	var exams []string
	resultAs(t, examsEnv, &exams)
	if fmt.Sprint(exams) != "[ielts gre]" {
		t.Errorf("exams = %v", exams)
	}

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}
}
