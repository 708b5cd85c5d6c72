// Package models defines the core data structures for VoiceIntake.
//
// It includes types for questions, transcripts, session state, and the
// handoff payloads exchanged with downstream consumers.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FlowType identifies which guided conversation a session runs.
type FlowType string

const (
	// FlowTypeOnboarding is the voice-driven profile building interview.
	FlowTypeOnboarding FlowType = "voice_onboarding"
	// FlowTypeExam is the spoken exam simulation.
	FlowTypeExam FlowType = "ai_exam"
)

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowTypeOnboarding, FlowTypeExam:
		return true
	default:
		return false
	}
}

// Role identifies who produced a transcript entry.
type Role string

const (
	// RoleAgent marks lines spoken by the interviewing agent.
	RoleAgent Role = "agent"
	// RoleRespondent marks lines recognized from the participant.
	RoleRespondent Role = "respondent"
)

// TranscriptEntry is a single line of the session transcript, in
// chronological order. The transcript is append-only and owned by the
// session; readers only display it.
type TranscriptEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Question is one prompt in a session catalog. Key is set for
// profile-building questions (the answer is stored under it) and empty for
// free-form exam questions (the answer is stored against the prompt text).
type Question struct {
	Key        string `json:"key,omitempty"`
	Prompt     string `json:"prompt"`
	FormatHint string `json:"format_hint,omitempty"`
}

// CanonicalValue is the normalized representation of a spoken answer.
// Table-backed fields carry a single canonical string; the countries field
// carries a list. Exactly one of Text/List is meaningful; an empty value
// means no keyword matched.
type CanonicalValue struct {
	Text string
	List []string
}

// IsList reports whether the value holds a country list rather than text.
func (v CanonicalValue) IsList() bool { return v.List != nil }

// IsEmpty reports whether normalization produced no usable value.
func (v CanonicalValue) IsEmpty() bool { return v.Text == "" && len(v.List) == 0 }

// MarshalJSON encodes list values as JSON arrays and everything else as a
// plain string, matching the handoff payload format the onboarding form
// consumes.
func (v CanonicalValue) MarshalJSON() ([]byte, error) {
	if v.IsList() {
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts either a string or an array of strings.
func (v *CanonicalValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Text = s
		v.List = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("canonical value must be a string or string array: %w", err)
	}
	v.Text = ""
	v.List = list
	return nil
}

// VoiceProfile maps onboarding question keys to their canonical answers.
// It is the onboarding handoff payload.
type VoiceProfile map[string]CanonicalValue

// ExamResponse is one question/answer pair collected during an exam session.
type ExamResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ExamResult is the exam handoff payload consumed by the counsellor view.
type ExamResult struct {
	ExamType   string         `json:"examType"`
	University string         `json:"university,omitempty"`
	Responses  []ExamResponse `json:"responses"`
}

// ExamContext is written by the university discovery view before an exam
// session starts and consumed exactly once when the exam finishes.
type ExamContext struct {
	University string `json:"university,omitempty"`
	Title      string `json:"title,omitempty"`
}

// SessionPhase is the current phase of a running session.
type SessionPhase string

const (
	// PhaseAgentSpeaking means the agent is synthesizing a prompt.
	PhaseAgentSpeaking SessionPhase = "agent_speaking"
	// PhaseListening means a recognition attempt is active.
	PhaseListening SessionPhase = "listening"
	// PhaseAwaitingResult means a recognition result is being processed.
	PhaseAwaitingResult SessionPhase = "awaiting_result"
	// PhaseFinished is terminal; a finished session never re-enters any
	// other phase.
	PhaseFinished SessionPhase = "finished"
)

// SessionSnapshot is the persisted view of an in-flight session, written
// after every accepted answer so the daemon can resume sessions after a
// restart.
type SessionSnapshot struct {
	ID            string            `json:"id"`
	ParticipantID string            `json:"participant_id"`
	Flow          FlowType          `json:"flow"`
	ExamType      string            `json:"exam_type,omitempty"`
	University    string            `json:"university,omitempty"`
	Channel       string            `json:"channel,omitempty"`
	PhoneNumber   string            `json:"phone_number,omitempty"`
	CurrentIndex  int               `json:"current_index"`
	Profile       VoiceProfile      `json:"profile,omitempty"`
	Responses     []ExamResponse    `json:"responses,omitempty"`
	Transcript    []TranscriptEntry `json:"transcript,omitempty"`
}

// Handoff payload kinds, used as storage discriminators. One well-known key
// per flow.
const (
	// HandoffKindVoiceProfile holds a finished onboarding session's answers.
	HandoffKindVoiceProfile = "voiceProfile"
	// HandoffKindExamResult holds a finished exam session's responses.
	HandoffKindExamResult = "ai_exam_result"
	// HandoffKindExamContext holds the pending exam's target university.
	HandoffKindExamContext = "ai_exam_context"
)

// Error variables shared across packages.
var (
	// ErrRecognizerUnsupported is fatal: the environment offers no speech
	// recognition capability and the flow must not start.
	ErrRecognizerUnsupported = errors.New("speech recognition is not available in this environment")
	// ErrSessionFinished is returned by operations invoked on a session
	// that already reached its terminal phase.
	ErrSessionFinished = errors.New("session already finished")
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownExamType is returned for exam types without a question set.
	ErrUnknownExamType = errors.New("unknown exam type")
	// ErrEmptyParticipant is returned when a participant ID is missing.
	ErrEmptyParticipant = errors.New("participant ID cannot be empty")
	// ErrNoHandoff is returned when a consume finds no pending payload.
	ErrNoHandoff = errors.New("no handoff payload pending")
	// ErrNoSpeechDetected terminates a session whose configured retry
	// budget for silent attempts has been exhausted.
	ErrNoSpeechDetected = errors.New("no speech detected after maximum retries")
)

// Validate checks an exam result payload before it is handed off.
func (r ExamResult) Validate() error {
	if r.ExamType == "" {
		return fmt.Errorf("exam result missing exam type")
	}
	if len(r.Responses) == 0 {
		return fmt.Errorf("exam result has no responses")
	}
	return nil
}
