package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/backchat/internal/apperror"
)

type stubSessions map[string]int64

func (s stubSessions) LookupSession(_ context.Context, token string) (int64, error) {
	if token == "broken" {
		return 0, apperror.Persistence("finding token", errors.New("db down"))
	}
	id, ok := s[token]
	if !ok {
		return 0, apperror.InvalidAccessToken(nil)
	}
	return id, nil
}

func TestRequireSession(t *testing.T) {
	sessions := stubSessions{"good": 42}

	var gotID int64
	var gotOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireSession(sessions)(inner)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer good", http.StatusNoContent, ""},
		{"lowercase scheme", "bearer good", http.StatusNoContent, ""},
		{"no header", "", http.StatusUnauthorized, `{"status":"error","response":"invalid access_token"}`},
		{"wrong scheme", "Basic Z29vZA==", http.StatusUnauthorized, `{"status":"error","response":"invalid access_token"}`},
		{"empty token", "Bearer ", http.StatusUnauthorized, `{"status":"error","response":"invalid access_token"}`},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, `{"status":"error","response":"invalid access_token"}`},
		{"store failure", "Bearer broken", http.StatusInternalServerError, `{"status":"error","response":"internal error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotOK = 0, false
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rr.Body.String())
				assert.False(t, gotOK, "inner handler must not run")
				return
			}
			assert.True(t, gotOK)
			assert.Equal(t, int64(42), gotID)
		})
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)
}
