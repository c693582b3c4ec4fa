package types

import (
	"strings"
	"time"
)

// Provider identifies a credential's provider family. It doubles as the
// discriminator in stored credential documents and in store file names.
type Provider string

const (
	// ProviderKiro is the Kiro provider (Google social or AWS IAM Identity Center).
	ProviderKiro Provider = "kiro"
	// ProviderAntigravity is the Antigravity provider (Google social only).
	ProviderAntigravity Provider = "antigravity"
)

// AuthMethod selects the refresh protocol that applies to a credential.
type AuthMethod string

const (
	// AuthMethodSocial refreshes against the desktop refresh endpoint with a JSON body.
	AuthMethodSocial AuthMethod = "Social"
	// AuthMethodIdC refreshes against a region-scoped OIDC token endpoint and
	// requires client_id, client_secret and region to be present.
	AuthMethodIdC AuthMethod = "IdC"
)

// Credential is one stored credential document. Field names match the on-disk
// JSON consumed by the downstream proxy, so they must not be renamed.
type Credential struct {
	Type         Provider   `json:"type"`
	AuthMethod   AuthMethod `json:"auth_method"`
	Provider     string     `json:"provider,omitempty"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    string     `json:"expires_at,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	StartURL     string     `json:"start_url,omitempty"`
	Region       string     `json:"region,omitempty"`
	ProfileArn   string     `json:"profileArn,omitempty"`
	Email        string     `json:"email,omitempty"`
	LastRefresh  string     `json:"last_refresh,omitempty"`
}

// expiryLayouts covers the timestamp shapes observed in stored documents:
// RFC3339, and ISO-8601 with or without fractional seconds after the trailing
// zone suffix has been stripped.
var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseExpiry parses an expires_at value as UTC. A trailing "Z" suffix is
// normalized away before parsing so naive ISO timestamps compare correctly.
func ParseExpiry(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range expiryLayouts {
		candidate := value
		if layout != time.RFC3339 {
			candidate = strings.TrimSuffix(candidate, "Z")
		}
		t, err := time.Parse(layout, candidate)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ExpiresAtTime returns the parsed expiry of the credential in UTC.
func (c *Credential) ExpiresAtTime() (time.Time, error) {
	return ParseExpiry(c.ExpiresAt)
}

// Refreshable reports whether the credential carries a refresh token at all.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// HasClientCredentials reports whether the IdC refresh precondition
// (client id and secret present) is satisfied.
func (c *Credential) HasClientCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// FormatExpiry renders a UTC instant in the document timestamp format.
func FormatExpiry(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999") + "Z"
}

// TokenResponse is the union of token endpoint response shapes across the
// provider families. Social endpoints use snake_case, IdC endpoints camelCase;
// the accessor methods pick whichever side is populated.
type TokenResponse struct {
	AccessTokenSnake  string `json:"access_token"`
	AccessTokenCamel  string `json:"accessToken"`
	RefreshTokenSnake string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
	ExpiresInSnake    int64  `json:"expires_in"`
	ExpiresInCamel    int64  `json:"expiresIn"`
	IDToken           string `json:"id_token"`
}

// AccessToken returns the access token regardless of response shape.
func (r *TokenResponse) AccessToken() string {
	if r.AccessTokenSnake != "" {
		return r.AccessTokenSnake
	}
	return r.AccessTokenCamel
}

// RefreshToken returns the refresh token regardless of response shape.
func (r *TokenResponse) RefreshToken() string {
	if r.RefreshTokenSnake != "" {
		return r.RefreshTokenSnake
	}
	return r.RefreshTokenCamel
}

// ExpiresIn returns the token lifetime in seconds, defaulting to one hour
// when the provider omitted it.
func (r *TokenResponse) ExpiresIn() int64 {
	if r.ExpiresInSnake > 0 {
		return r.ExpiresInSnake
	}
	if r.ExpiresInCamel > 0 {
		return r.ExpiresInCamel
	}
	return 3600
}
