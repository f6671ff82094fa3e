package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// APIKeyHeader carries a client API key.
const APIKeyHeader = "X-API-Key"

// AdminChecker reports whether a raw key is a live admin key.
type AdminChecker interface {
	IsAdminKey(ctx context.Context, rawKey string) (bool, error)
}

// RequireAdmin admits requests bearing "Authorization: Bearer <admin key>".
// A missing or malformed header is 401, a key that is not a live admin key
// is 403.
func RequireAdmin(checker AdminChecker, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			ok, err := checker.IsAdminKey(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("admin check failed")
				WriteError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !ok {
				WriteError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes {"error": message} with status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
