package flows

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityResolver extracts a display identifier from an ID token. The result
// is non-authoritative (used only to key the stored credential), so resolvers
// may decode without verifying signatures. A verified implementation can be
// swapped in without touching callers.
type IdentityResolver interface {
	// EmailFromIDToken returns the email claim of the token payload and
	// whether one was found.
	EmailFromIDToken(idToken string) (string, bool)
}

// unverifiedResolver decodes the token payload without signature
// verification. Intentionally non-authoritative.
type unverifiedResolver struct{}

// NewIdentityResolver returns the default, unverified resolver.
func NewIdentityResolver() IdentityResolver {
	return unverifiedResolver{}
}

func (unverifiedResolver) EmailFromIDToken(idToken string) (string, bool) {
	if idToken == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return "", false
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", false
	}
	return email, true
}

// FallbackIdentifier generates a stable-for-this-credential identifier when
// no email could be resolved.
func FallbackIdentifier() string {
	return "unknown-" + uuid.NewString()[:8]
}
