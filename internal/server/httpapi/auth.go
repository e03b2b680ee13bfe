package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
)

type claimsKey struct{}

func bearerClaims(r *http.Request, secret []byte) (*auth.Claims, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, common.ErrorUnauthorized
	}
	return auth.ParseToken(token, secret)
}

// RequireSession accepts any bearer session token signed with secret and
// stores its claims in the request context.
func RequireSession(secret []byte, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := bearerClaims(r, secret)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// RequireRole is RequireSession restricted to tokens whose role is role.
func RequireRole(secret []byte, role string, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := bearerClaims(r, secret)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			if claims.Role != role {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// sessionClaims returns the claims stored by RequireSession or RequireRole.
func sessionClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	return claims
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
}
