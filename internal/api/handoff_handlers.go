package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CampusCompass/VoiceIntake/internal/flow"
	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// listExamsHandler returns the supported exam types (GET /exams).
func (s *Server) listExamsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(flow.ExamTypes()))
}

// saveExamContextHandler records the target university for a participant's
// next exam session (PUT /participants/{id}/exam-context). The university
// discovery surface calls this before sending the participant into
// speaking practice.
func (s *Server) saveExamContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	participantID := r.PathValue("id")
	var examCtx models.ExamContext
	if err := json.NewDecoder(r.Body).Decode(&examCtx); err != nil {
		slog.Warn("Server.saveExamContextHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.st.SaveExamContext(r.Context(), participantID, examCtx); err != nil {
		slog.Error("Server.saveExamContextHandler: failed to save exam context", "error", err, "participant", participantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save exam context"))
		return
	}
	slog.Info("Server.saveExamContextHandler: exam context saved", "participant", participantID, "university", examCtx.University)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Exam context saved", nil))
}

// prefillHandler consumes a finished voice profile and returns it as form
// data (POST /participants/{id}/prefill). The onboarding form calls this
// once after the voice session ends; a second call finds nothing.
func (s *Server) prefillHandler(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")
	form, err := s.prefiller.Prefill(r.Context(), participantID)
	if err != nil {
		if errors.Is(err, models.ErrNoHandoff) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No voice profile pending"))
			return
		}
		slog.Error("Server.prefillHandler: prefill failed", "error", err, "participant", participantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to prefill form"))
		return
	}
	slog.Info("Server.prefillHandler: form prefilled", "participant", participantID)
	writeJSONResponse(w, http.StatusOK, models.Success(form))
}

// evaluateHandler consumes a finished exam result and returns generated
// feedback (POST /participants/{id}/evaluate).
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Evaluation is not configured"))
		return
	}
	participantID := r.PathValue("id")
	feedback, err := s.evaluator.EvaluatePending(r.Context(), participantID)
	if err != nil {
		if errors.Is(err, models.ErrNoHandoff) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No exam result pending"))
			return
		}
		slog.Error("Server.evaluateHandler: evaluation failed", "error", err, "participant", participantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to evaluate exam"))
		return
	}
	slog.Info("Server.evaluateHandler: exam evaluated", "participant", participantID)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"feedback": feedback}))
}

// healthHandler provides a health check endpoint for monitoring
// (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"live_sessions": len(s.sessions.list()),
	})
}
