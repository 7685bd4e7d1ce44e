package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/backchat/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package, so
// no other package can read or shadow the values stored under it.
type contextKey string

const userIDKey contextKey = "userID"

// SessionLookup maps an issued session token to its user.
// *service.AuthService implements it.
type SessionLookup interface {
	LookupSession(ctx context.Context, accessToken string) (int64, error)
}

// RequireSession is a middleware for routes that need an existing session.
//
// It reads the token from the "Authorization: Bearer <token>" header, looks
// it up, and stores the user id in the request context. It never contacts a
// provider: a token that was not issued through POST / is rejected with 401.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireSession(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			userID, err := sessions.LookupSession(r.Context(), token)
			switch {
			case errors.Is(err, apperror.ErrInvalidAccessToken):
				writeUnauthorized(w)
				return
			case err != nil:
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"status":"error","response":"internal error"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the user id stored by RequireSession.
//
// Returns (0, false) on routes without the middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"status":"error","response":"invalid access_token"}` + "\n"))
}
