package flows

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code
	// verifier. 32 bytes encode to 43 base64url characters, the minimum
	// verifier length allowed by RFC 7636.
	pkceVerifierBytes = 32

	// stateBytes sizes the anti-CSRF state parameter.
	stateBytes = 12
)

// GeneratePKCE generates a PKCE code verifier and its S256 challenge.
// The challenge is base64url(sha256(verifier)) without padding.
func GeneratePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	verifier = base64.RawURLEncoding.EncodeToString(raw)
	return verifier, ChallengeFromVerifier(verifier), nil
}

// ChallengeFromVerifier computes the S256 challenge for a given verifier.
// Deterministic: the same verifier always yields the same challenge.
func ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter for authorization requests.
func GenerateState() (string, error) {
	raw := make([]byte, stateBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
