package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"pulse/internal/types"
)

// AdminKeyMiddleware guards the /admin route group. The key is accepted
// either as an X-Api-Key header or as a Bearer token in the Authorization
// header. Comparison is constant-time.
//
// Returns 401 with distinct error codes:
//   - auth_admin_key_missing: no key supplied.
//   - auth_admin_key_invalid: key supplied but does not match.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-Api-Key")
		if supplied == "" {
			supplied = extractBearerToken(r.Header.Get("Authorization"))
		}
		if supplied == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing,
				"admin API key is required", nil))
			return
		}

		expected := s.Config.Security.AdminAPIKey.Unmask()
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) != 1 {
			s.Logger.WarnContext(r.Context(), "admin API key rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid,
				"admin API key is not valid", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken parses the Authorization header value and returns the
// token string. It expects the format "Bearer <token>" (case-insensitive
// scheme per RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
