package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"platformd/backend/internal/httpapi/contextkeys"
	"platformd/backend/internal/httpapi/response"
)

const HeaderProjectID = "X-Project-Id"

// ProjectScope reads X-Project-Id into the request context. A malformed value is rejected.
func ProjectScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderProjectID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			response.Error(w, http.StatusBadRequest, "invalid X-Project-Id header")
			return
		}
		ctx := context.WithValue(r.Context(), contextkeys.ProjectID, uint(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProjectID returns the project the request is scoped to, or 0.
func ProjectID(r *http.Request) uint {
	id, _ := r.Context().Value(contextkeys.ProjectID).(uint)
	return id
}
