package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type identityCtxKey struct{}

// ContextWithIdentity returns a context carrying the authenticated
// subject. The auth layer should attach this after validating the token.
func ContextWithIdentity(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, subject)
}

// IdentityFromContext reads the subject placed by ContextWithIdentity.
func IdentityFromContext(r *http.Request) string {
	if subject, ok := r.Context().Value(identityCtxKey{}).(string); ok {
		return subject
	}
	return ""
}

// IdentityFromBearerToken reads the "sub" claim from a Bearer token in the
// Authorization header. The token is decoded without signature validation:
// the auth layer has already rejected forged tokens by the time this
// middleware runs, and an unauthenticated caller presenting a junk token
// only narrows their own bucket.
func IdentityFromBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(auth[len(prefix):], claims); err != nil {
		return ""
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}

// DefaultIdentity checks the request context first, then the Bearer token.
func DefaultIdentity(r *http.Request) string {
	if subject := IdentityFromContext(r); subject != "" {
		return subject
	}
	return IdentityFromBearerToken(r)
}
