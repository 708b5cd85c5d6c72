package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
)

// twilioVoiceHandler serves the next TwiML document for a phone session
// (POST /twilio/voice/{id}). Twilio fetches it when the call connects and
// again after each redirect.
func (s *Server) twilioVoiceHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sessions.get(id)
	if !ok || entry.call == nil {
		slog.Warn("Server.twilioVoiceHandler: unknown call session", "session", id)
		writeTwiMLResponse(w, telephony.TwiMLResponse{Hangup: &telephony.Hangup{}})
		return
	}
	doc := entry.call.NextTwiML(r.Context(), s.publicURL+"/twilio/voice/"+id)
	writeTwiMLResponse(w, doc)
}

// twilioGatherHandler receives a speech transcription from Twilio
// (POST /twilio/gather/{id}), feeds it to the session, and answers with the
// next TwiML document.
func (s *Server) twilioGatherHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sessions.get(id)
	if !ok || entry.call == nil {
		slog.Warn("Server.twilioGatherHandler: unknown call session", "session", id)
		writeTwiMLResponse(w, telephony.TwiMLResponse{Hangup: &telephony.Hangup{}})
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioGatherHandler: failed to parse form", "error", err, "session", id)
		writeTwiMLResponse(w, telephony.TwiMLResponse{Hangup: &telephony.Hangup{}})
		return
	}
	result := r.PostFormValue("SpeechResult")
	slog.Debug("Server.twilioGatherHandler: gather result received", "session", id, "empty", result == "")
	entry.call.HandleGatherResult(result)

	doc := entry.call.NextTwiML(r.Context(), s.publicURL+"/twilio/voice/"+id)
	writeTwiMLResponse(w, doc)
}

type incomingMessageRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// whatsappIncomingHandler injects an inbound text message
// (POST /whatsapp/incoming). Deployments that receive WhatsApp messages
// through a hosted gateway post them here instead of running the native
// client.
func (s *Server) whatsappIncomingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req incomingMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.whatsappIncomingHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.From == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: from"))
		return
	}
	s.router.Route(req.From, req.Body)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message routed", nil))
}
