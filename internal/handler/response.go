package handler

// RESPONSE HELPERS:
// Every response of this API shares one envelope:
//
//	{"status": "ok",    "response": <payload>}
//	{"status": "error", "response": "<message>"}
//
// Clients branch on "status" and never need to inspect the HTTP code, though
// the code is still set (200, 400, 404 or 500).

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/backchat/internal/apperror"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Envelope is the standard body returned by all API endpoints.
type Envelope struct {
	Status   string `json:"status"`
	Response any    `json:"response"`
}

// UserResponse wraps a user projection as {"user": {...}}.
type UserResponse struct {
	User any `json:"user"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set before the body: once Encode writes, later
// header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeOK wraps payload in a success envelope.
func writeOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, Envelope{Status: statusOK, Response: payload})
}

// writeError maps a domain error to an HTTP status and an error envelope.
//
// The service layer returns apperror sentinels and knows nothing about HTTP;
// this is the one place they become status codes. errors.Is walks the whole
// chain, so wrapped errors map the same as bare ones.
//
// Only AppError messages reach the client. Anything else, and every 500,
// gets the generic "internal error": raw messages may carry SQL or hostnames.
func writeError(w http.ResponseWriter, err error) {
	status, message := errorResponse(err)
	writeJSON(w, status, Envelope{Status: statusError, Response: message})
}

func errorResponse(err error) (int, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal error"
	}

	switch {
	case errors.Is(err, apperror.ErrInvalidProvider),
		errors.Is(err, apperror.ErrInvalidAccessToken),
		errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, appErr.Message
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, appErr.Message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
