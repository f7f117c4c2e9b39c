package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorResponse is written when a response cannot be marshaled.
var fallbackErrorResponse = []byte(`{"status":"error","error":"internal server error"}`)

// writeJSONResponse marshals response before touching the headers so an
// encoding failure still produces a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("app writeJSONResponse marshal failed", "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("app writeJSONResponse write failed", "error", err)
	}
}
