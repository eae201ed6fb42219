package middleware

import (
	"encoding/json"
	"net/http"
)

// writeErrorResponse writes a JSON error body with the given status, code, and message.
func writeErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error":   code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	json.NewEncoder(w).Encode(body)
}
