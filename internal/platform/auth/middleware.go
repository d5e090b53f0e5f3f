package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bonaevents/storefront/internal/platform/requestctx"
)

// RequireAdmin verifies the Authorization bearer token issued by Login and marks the request
// context with the token subject.
func (g *AdminGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if g == nil {
				respondAuthError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "admin gate unavailable")
				return
			}

			subject, err := g.Verify(tokenStr)
			if err != nil {
				respondVerificationError(w, r, err)
				return
			}

			ctx := requestctx.WithAdminSubject(r.Context(), subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	payload := map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		payload["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondVerificationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, r, http.StatusUnauthorized, "token_expired", "admin session expired")
	default:
		respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "admin token invalid")
	}
}
