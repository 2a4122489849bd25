// Package apiresponse provides JSON response helpers for the host agent's HTTP handlers.
package apiresponse

import (
	"encoding/json"
	"net/http"

	"github.com/iFunFactory/dshostd/internal/apierrors"
)

// Envelope is the standard response envelope used by the agent REST API.
// The match-facing endpoints also write their own flatter {status, host, port}
// bodies directly via OK; this envelope backs the error path and any
// endpoint that doesn't need the flatter shape.
type Envelope struct {
	Status string `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// JSON writes a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes {"status":"ok", ...fields} merged with extra data, status 200.
func OK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"status": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// Error writes a standardized error envelope, deriving the HTTP status from the error.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	JSON(w, apiErr.StatusCode, Envelope{Status: "error", Error: apiErr})
}
