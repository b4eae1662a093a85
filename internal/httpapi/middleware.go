package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"conectazap/internal/identity"
	"conectazap/internal/usecase"
)

type ctxKey int

const sessionKey ctxKey = iota

// requireAgent authenticates the bearer token and attaches the agent's
// ChatSession to the request context. A valid token whose email is not
// verified counts as signed out: the server drops any session state and the
// client is expected to sign the user out and return to login.
func (s *Server) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, usecase.ErrorAuth, "missing_token")
			return
		}

		user, err := s.verifier.Verify(token)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, identity.ErrExpiredToken) {
				reason = "expired_token"
			}
			writeError(w, http.StatusUnauthorized, usecase.ErrorAuth, reason)
			return
		}
		if err := identity.RequireVerified(user); err != nil {
			s.dropSession(user.ID)
			writeError(w, http.StatusUnauthorized, usecase.ErrorAuth, "email_not_verified")
			return
		}

		sess, err := s.session(user)
		if err != nil {
			s.log.Error("session create failed", "user", user.ID, "err", err)
			writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "session_error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(r *http.Request) *usecase.ChatSession {
	sess, _ := r.Context().Value(sessionKey).(*usecase.ChatSession)
	return sess
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// WebSocket clients cannot set headers from the browser; the stream
	// endpoint alone accepts the token as a query parameter.
	if r.URL.Path == "/api/stream" {
		return r.URL.Query().Get("token")
	}
	return ""
}
