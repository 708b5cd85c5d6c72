// Package api HTTP response utilities.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// Pre-marshaled fallback so a response always goes out even when encoding
// the real payload fails.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeTwiMLResponse renders a TwiML document for a Twilio webhook.
func writeTwiMLResponse(w http.ResponseWriter, doc interface{ Render() ([]byte, error) }) {
	body, err := doc.Render()
	if err != nil {
		slog.Error("Server.writeTwiMLResponse: failed to render TwiML", "error", err)
		http.Error(w, "failed to render TwiML", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	if _, writeErr := w.Write(body); writeErr != nil {
		slog.Error("Server.writeTwiMLResponse: failed to write TwiML response", "error", writeErr)
	}
}
