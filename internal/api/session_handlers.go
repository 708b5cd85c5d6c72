package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/CampusCompass/VoiceIntake/internal/flow"
	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/speech"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
	"github.com/CampusCompass/VoiceIntake/internal/whatsapp"
)

// Session transport channels.
const (
	ChannelPhone    = "phone"
	ChannelWhatsApp = "whatsapp"
)

type createSessionRequest struct {
	ParticipantID string          `json:"participant_id"`
	Flow          models.FlowType `json:"flow"`
	ExamType      string          `json:"exam_type,omitempty"`
	Channel       string          `json:"channel"`
	PhoneNumber   string          `json:"phone_number"`
}

// sessionState is the JSON view of a session returned by the API.
type sessionState struct {
	ID            string                   `json:"id"`
	ParticipantID string                   `json:"participant_id"`
	Flow          models.FlowType          `json:"flow"`
	ExamType      string                   `json:"exam_type,omitempty"`
	Phase         models.SessionPhase      `json:"phase"`
	CurrentIndex  int                      `json:"current_index"`
	Transcript    []models.TranscriptEntry `json:"transcript,omitempty"`
	Profile       models.VoiceProfile      `json:"profile,omitempty"`
	Responses     []models.ExamResponse    `json:"responses,omitempty"`
}

func stateOf(sess *flow.Session) sessionState {
	answers := sess.Answers()
	return sessionState{
		ID:            sess.ID(),
		ParticipantID: sess.ParticipantID(),
		Flow:          sess.Flow(),
		ExamType:      sess.ExamType(),
		Phase:         sess.Phase(),
		CurrentIndex:  sess.CurrentIndex(),
		Transcript:    sess.Transcript(),
		Profile:       answers.Profile,
		Responses:     answers.Responses,
	}
}

// createSessionHandler starts a new interview session (POST /sessions).
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createSessionHandler: processing create request", "method", r.Method, "path", r.URL.Path)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidFlowType(req.Flow) {
		slog.Warn("Server.createSessionHandler: invalid flow type", "flow", req.Flow)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid flow type"))
		return
	}
	if req.PhoneNumber == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: phone_number"))
		return
	}

	switch req.Channel {
	case ChannelPhone:
		s.createPhoneSession(w, r, req)
	case ChannelWhatsApp:
		s.createWhatsAppSession(w, r, req)
	default:
		slog.Warn("Server.createSessionHandler: unknown channel", "channel", req.Channel)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Channel must be one of: phone, whatsapp"))
	}
}

func (s *Server) createPhoneSession(w http.ResponseWriter, r *http.Request, req createSessionRequest) {
	if s.caller == nil || s.publicURL == "" {
		slog.Warn("Server.createPhoneSession: telephony not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Phone sessions are not configured"))
		return
	}

	id := uuid.NewString()
	channel := telephony.NewCallChannel(s.publicURL + "/twilio/gather/" + id)
	sess, err := s.buildSession(r.Context(), req, channel, id)
	if err != nil {
		channel.Close()
		s.writeSessionError(w, err)
		return
	}

	entry := &sessionEntry{session: sess, call: channel}
	s.sessions.add(entry)
	if err := sess.Start(context.Background()); err != nil {
		s.sessions.remove(id)
		channel.Close()
		slog.Error("Server.createPhoneSession: failed to start session", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		return
	}
	go s.reapWhenDone(entry)

	callSID, err := s.caller.PlaceCall(r.Context(), req.PhoneNumber, s.publicURL+"/twilio/voice/"+id)
	if err != nil {
		entry.close()
		s.sessions.remove(id)
		slog.Error("Server.createPhoneSession: failed to place call", "error", err, "to", req.PhoneNumber)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to place call"))
		return
	}

	slog.Info("Server.createPhoneSession: session started", "session", id, "participant", req.ParticipantID, "flow", req.Flow, "callSID", callSID)
	writeJSONResponse(w, http.StatusCreated, models.Success(stateOf(sess)))
}

func (s *Server) createWhatsAppSession(w http.ResponseWriter, r *http.Request, req createSessionRequest) {
	if s.sender == nil {
		slog.Warn("Server.createWhatsAppSession: WhatsApp not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("WhatsApp sessions are not configured"))
		return
	}

	id := uuid.NewString()
	channel := whatsapp.NewTextChannel(s.sender, req.PhoneNumber)
	sess, err := s.buildSession(r.Context(), req, channel, id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	entry := &sessionEntry{session: sess, text: channel}
	s.sessions.add(entry)
	s.router.Register(channel)
	if err := sess.Start(context.Background()); err != nil {
		s.router.Unregister(req.PhoneNumber)
		s.sessions.remove(id)
		slog.Error("Server.createWhatsAppSession: failed to start session", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		return
	}
	go s.reapWhenDone(entry)

	slog.Info("Server.createWhatsAppSession: session started", "session", id, "participant", req.ParticipantID, "flow", req.Flow)
	writeJSONResponse(w, http.StatusCreated, models.Success(stateOf(sess)))
}

func (s *Server) buildSession(ctx context.Context, req createSessionRequest, channel speech.Channel, id string) (*flow.Session, error) {
	options := []flow.SessionOption{
		flow.WithSessionID(id),
		flow.WithTransport(req.Channel, req.PhoneNumber),
	}
	if req.Flow == models.FlowTypeExam {
		return flow.NewExamSession(ctx, req.ParticipantID, req.ExamType, channel, s.st, options...)
	}
	return flow.NewOnboardingSession(req.ParticipantID, channel, s.st, options...)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyParticipant):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: participant_id"))
	case errors.Is(err, models.ErrUnknownExamType):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown exam type"))
	default:
		slog.Error("Server.writeSessionError: failed to create session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
	}
}

// reapWhenDone releases the channel once the session reaches its terminal
// phase, whether it finished on its own or was closed by delete/shutdown.
// The registry entry stays so the transcript remains readable until the
// session is deleted.
func (s *Server) reapWhenDone(entry *sessionEntry) {
	<-entry.session.Done()
	if entry.call != nil {
		entry.call.Close()
	}
	if entry.text != nil {
		s.router.Unregister(entry.text.Number())
		entry.text.Close()
	}
	switch err := entry.session.Err(); {
	case errors.Is(err, context.Canceled):
		slog.Info("Server.reapWhenDone: session closed", "session", entry.session.ID())
	case err != nil:
		slog.Warn("Server.reapWhenDone: session ended with error", "session", entry.session.ID(), "error", err)
	default:
		slog.Info("Server.reapWhenDone: session finished", "session", entry.session.ID())
	}
}

// getSessionHandler returns the current session state (GET /sessions/{id}).
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stateOf(entry.session)))
}

// listSessionsHandler returns all live sessions (GET /sessions).
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.sessions.list()
	states := make([]sessionState, 0, len(entries))
	for _, entry := range entries {
		states = append(states, stateOf(entry.session))
	}
	slog.Debug("Server.listSessionsHandler: sessions listed", "count", len(states))
	writeJSONResponse(w, http.StatusOK, models.Success(states))
}

// restartSessionHandler restarts a session from its first question
// (POST /sessions/{id}/restart).
func (s *Server) restartSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sessions.get(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err := entry.session.Restart(); err != nil {
		if errors.Is(err, models.ErrSessionFinished) {
			writeJSONResponse(w, http.StatusConflict, models.Error("Session already finished"))
			return
		}
		slog.Error("Server.restartSessionHandler: restart failed", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to restart session"))
		return
	}
	slog.Info("Server.restartSessionHandler: session restarted", "session", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session restarted", nil))
}

// repeatQuestionHandler re-asks the current question
// (POST /sessions/{id}/repeat).
func (s *Server) repeatQuestionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sessions.get(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err := entry.session.RepeatQuestion(); err != nil {
		if errors.Is(err, models.ErrSessionFinished) {
			writeJSONResponse(w, http.StatusConflict, models.Error("Session already finished"))
			return
		}
		slog.Error("Server.repeatQuestionHandler: repeat failed", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to repeat question"))
		return
	}
	slog.Info("Server.repeatQuestionHandler: question repeated", "session", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Question repeated", nil))
}

// deleteSessionHandler tears a session down (DELETE /sessions/{id}). The
// persisted snapshot is removed too so the session is not resumed later.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sessions.get(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	entry.close()
	s.sessions.remove(id)
	if err := s.st.DeleteSessionSnapshot(r.Context(), id); err != nil {
		slog.Warn("Server.deleteSessionHandler: failed to delete snapshot", "error", err, "session", id)
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "session", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}
