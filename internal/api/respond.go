package api

import (
	"encoding/json"
	"net/http"
)

// errorEnvelope is the body of every non-2xx response.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, errorEnvelope{Error: kind, Message: message})
}

func respondErrorDetails(w http.ResponseWriter, status int, kind, message string, details any) {
	respondJSON(w, status, errorEnvelope{Error: kind, Message: message, Details: details})
}
