package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalambet/innercompass/internal/session"
)

type ctxKey int

const sessionKey ctxKey = iota

// SessionAuth resolves the bearer token into a session, re-creating the
// session from the store when the token is valid but unknown to this
// process.
func SessionAuth(sessions *session.Controller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			s, err := sessions.Resume(r.Context(), token)
			if err != nil {
				writeError(w, err, nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, s)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}
