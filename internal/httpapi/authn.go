package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chatcore.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/",
}

type ctxKey int

const identityKey ctxKey = iota

func contextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

// withAuth verifies the bearer token on every non-public path and attaches
// the resolved identity to the request context. Builtin claims reconstruct
// the synthetic admin; everything else is re-read from the store so a
// demotion or deletion takes effect on the next request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.minter.Verify(token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				respondError(w, http.StatusUnauthorized, "invalid token")
			} else {
				respondError(w, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		var id identity.Identity
		if claims.Builtin {
			id = identity.Identity{
				User: identity.User{
					ID:       claims.UserID,
					Username: claims.Username,
					Role:     identity.RoleAdmin,
				},
				Builtin: true,
			}
		} else {
			user, err := a.identity.UserByID(r.Context(), claims.UserID)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			id = identity.Identity{User: *user}
		}

		next.ServeHTTP(w, r.WithContext(contextWithIdentity(r.Context(), id)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
