// Package middleware provides HTTP middleware for the upload API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Context key type for storing the authenticated owner.
type contextKey string

const ownerContextKey contextKey = "owner"

// OwnerHeader is the dev-mode identity header.
const OwnerHeader = "X-Owner-ID"

// OwnerFromContext returns the authenticated owner ID, or "" when the
// request did not pass through the Identity middleware.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner
}

// WithOwner returns a context carrying the owner ID. Exposed for tests that
// call handlers directly.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerID)
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Identity authenticates the caller and stores the owner ID in the request
// context.
//
// The normal path is an HMAC-signed JWT whose subject is the owner ID; the
// signature is always verified, a parse without verification would let
// anyone claim any owner. With devMode set, an X-Owner-ID header is accepted
// when no token is present.
func Identity(secret []byte, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				if devMode {
					if owner := r.Header.Get(OwnerHeader); owner != "" {
						serveAs(next, w, r, owner)
						return
					}
				}
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims := &jwt.RegisteredClaims{}
			_, err := jwt.ParseWithClaims(tokenString, claims,
				func(t *jwt.Token) (any, error) { return secret, nil },
				jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			)
			if err != nil || claims.Subject == "" {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			serveAs(next, w, r, claims.Subject)
		})
	}
}

func serveAs(next http.Handler, w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx := context.WithValue(r.Context(), ownerContextKey, ownerID)
	next.ServeHTTP(w, r.WithContext(ctx))
}
