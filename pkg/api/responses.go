package api

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/hutch/pkg/log"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the standard error envelope. The request id rides
// along whenever the context carries one.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	body := map[string]any{"error": code}
	if message != "" {
		body["message"] = message
	}
	if requestID := log.RequestIDFromContext(r.Context()); requestID != "" {
		body["requestId"] = requestID
	}
	writeJSON(w, status, body)
}
