package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/skooler/internal/auth"
	"github.com/JonMunkholm/skooler/internal/core"
	"github.com/JonMunkholm/skooler/internal/logging"
)

// errMissingToken is reported when no bearer token is sent.
var errMissingToken = errors.New("missing bearer token")

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	ValidateAccessToken(token string) (*auth.AccessTokenClaims, error)
}

// Identity is the authenticated caller of a request.
type Identity struct {
	ActorID  string
	SchoolID string
	Role     core.Role
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller set by JWTAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// JWTAuth returns middleware that requires a valid "Authorization: Bearer" token
// and stores the caller's identity in the request context.
// Role checks are left to the service.
func JWTAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logging.FromContext(r.Context()).Warn("auth: missing bearer token",
					"path", r.URL.Path,
					"method", r.Method,
				)
				unauthorized(w, errMissingToken)
				return
			}

			claims, err := verifier.ValidateAccessToken(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("auth: invalid token",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err,
				)
				unauthorized(w, err)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				ActorID:  claims.Sub,
				SchoolID: claims.SchoolID,
				Role:     core.Role(claims.Role),
			})
			ctx = logging.With(ctx,
				"school_id", claims.SchoolID,
				"actor_id", claims.Sub,
				"role", claims.Role,
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := core.MapError(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="skooler"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   msg.Message,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}
