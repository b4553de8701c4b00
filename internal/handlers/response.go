package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/sealedchat/internal/apperr"
)

// writeJSON writes a successful envelope. fields are merged next to
// "success".
func writeJSON(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its HTTP status and writes a failure envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   apperr.Message(err),
		"code":    code,
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput("malformed request body")
	}
	return nil
}
