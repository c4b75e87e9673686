package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error taxonomy surfaced in every error body. Codes are distinct kinds,
// not per-field identifiers.
const (
	codeValidation = "VALIDATION_ERROR"
	codeNotFound   = "NOT_FOUND"
	codeCrossUser  = "UNAUTHORIZED_CROSS_USER"
	codeConflict   = "CONFLICT"
	codeEmbedding  = "EMBEDDING_ERROR"
	codeLLM        = "LLM_ERROR"
	codeStorage    = "STORAGE_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"status":     "error",
		"error_code": code,
		"error":      message,
	})
}

// userIDParam reads the user_id every route carries, from the query
// string.
func userIDParam(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}

// intParam parses an optional integer query parameter, returning def when
// absent or malformed.
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
