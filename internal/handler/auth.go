package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/sakif/backchat/internal/apperror"
	"github.com/sakif/backchat/internal/auth"
	"github.com/sakif/backchat/internal/model"
)

// maxRequestBytes bounds the POST / body.
const maxRequestBytes = 64 << 10

// Authenticator is the part of service.AuthService the handler needs.
type Authenticator interface {
	AuthenticateOrReuse(ctx context.Context, providerName, accessToken string) (*model.UserProjection, error)
	GetUser(ctx context.Context, userID int64) (*model.UserProjection, error)
}

// AuthHandler exposes session token validation over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleAuthenticate → POST /   exchange a provider token for a session
//   - HandleMe           → GET /me  return the user behind a bearer session
type AuthHandler struct {
	service Authenticator
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(service Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// authRequest is the body of POST /. It arrives either form-encoded or as
// JSON with the same field names.
type authRequest struct {
	AccessToken string `json:"access_token"`
	Provider    string `json:"provider"`
}

// HandleAuthenticate validates an access token and returns its user.
//
// HTTP: POST /
// REQUEST BODY: access_token=...&provider=facebook  (or the JSON equivalent)
//
// RESPONSE:
//
//	{"status":"ok","response":{"user":{"new_user":false,"settings":{...},
//	  "available_clues":3,"id":17,"full_name":"Ada Lovelace"}}}
//
// The provider is only consulted when the token has not been seen before,
// so repeat calls with a known token may omit it.
//
// WHY CHECK access_token HERE AND AGAIN IN THE SERVICE?
// The handler rejects a missing token before any work is done, so the
// response is the same no matter what the service would have tried. The
// service keeps its own check so it holds for callers other than this one.
func (h *AuthHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAuthRequest(w, r)
	if err != nil {
		h.logger.Debug("rejecting request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	if req.AccessToken == "" {
		writeError(w, apperror.ValidationFailed("access_token", "invalid access_token"))
		return
	}

	user, err := h.service.AuthenticateOrReuse(r.Context(), req.Provider, req.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, UserResponse{User: user})
}

// HandleMe returns the user the bearer session belongs to.
//
// HTTP: GET /me
// Auth: Required (auth.RequireSession puts the user id in the context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Only reachable if the route is mounted without RequireSession.
		h.logger.Error("HandleMe: no session in context")
		writeError(w, apperror.InvalidAccessToken(nil))
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, UserResponse{User: user})
}

// decodeAuthRequest reads a JSON body when the request says it is JSON and
// a form body otherwise.
//
// WHY ACCEPT BOTH?
// Mobile clients post form fields; browser and test clients find JSON easier.
// Both carry the same two fields, so supporting both costs one branch.
func decodeAuthRequest(w http.ResponseWriter, r *http.Request) (authRequest, error) {
	var req authRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// A well-formed body with a non-string token is a bad token,
			// not a bad body.
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) && typeErr.Field == "access_token" {
				return req, apperror.ValidationFailed("access_token", "invalid access_token")
			}
			return req, apperror.ValidationFailed("body", "invalid request body")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, apperror.ValidationFailed("body", "invalid request body")
	}
	req.AccessToken = r.PostForm.Get("access_token")
	req.Provider = r.PostForm.Get("provider")
	return req, nil
}
