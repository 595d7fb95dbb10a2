package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"cabbooking/internal/identity"
	"cabbooking/pkg/config"
)

// SessionAuth verifies the identity-provider access token and attaches the caller's Actor.
//
// Expected header:
// - Authorization: Bearer <JWT>
//
// Browsers cannot set headers on websocket upgrades, so `?token=` is accepted as well.
func SessionAuth(cfg config.Config, profiles identity.Profiles) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
				return
			}

			vs, err := identity.VerifySessionToken(token, cfg.Auth.Audience, cfg.Auth.JWTSecret, time.Now())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session token")
				return
			}

			actor, err := profiles.Lookup(r.Context(), vs.UserID)
			if err != nil {
				if errors.Is(err, identity.ErrNoProfile) {
					WriteError(w, http.StatusForbidden, "PROFILE_REQUIRED", "no company or vendor profile for this user")
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to load profile")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects actors of any other role.
func RequireRole(role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := ActorFromContext(r.Context())
			if a == nil {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
				return
			}
			if a.Role != role {
				WriteError(w, http.StatusForbidden, "FORBIDDEN", "only "+string(role)+" accounts can do this")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
