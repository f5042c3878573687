package middleware

import (
	"context"
	"net/http"
	"strings"

	"platformd/backend/internal/httpapi/contextkeys"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/security"
)

// Auth verifies bearer tokens signed with Secret. Tokens are issued elsewhere; an empty Secret
// disables the check.
type Auth struct {
	Secret string
}

func (a Auth) RequireAuth(next http.Handler) http.Handler {
	if a.Secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			response.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}

		subject, err := security.ParseAccessToken(token, a.Secret)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), contextkeys.Subject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the verified token subject, if any.
func Subject(r *http.Request) (string, bool) {
	subject, ok := r.Context().Value(contextkeys.Subject).(string)
	return subject, ok && subject != ""
}

func bearerToken(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(strings.TrimSpace(raw), " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
