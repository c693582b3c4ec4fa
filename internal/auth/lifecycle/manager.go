// Package lifecycle keeps stored credentials valid: it evaluates staleness,
// performs provider-specific refresh, and backfills missing identity-center
// client credentials from the external SSO cache.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	log "github.com/charmbracelet/log"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
	"github.com/quotio/quotio-cli/pkg/config"
)

// RefreshBuffer is the lead time before expiry during which a credential is
// proactively refreshed.
const RefreshBuffer = 5 * time.Minute

// Decision is the result of a staleness evaluation.
type Decision struct {
	Due    bool
	Reason string
}

// EvaluateStaleness decides whether a credential is due for refresh at the
// given instant. A document without an expiry is simply not refreshable; an
// unparsable expiry fails safe toward refreshing.
func EvaluateStaleness(cred *types.Credential, now time.Time) Decision {
	if cred.ExpiresAt == "" {
		return Decision{Due: false, Reason: "no expiry information"}
	}

	expiry, err := cred.ExpiresAtTime()
	if err != nil {
		return Decision{Due: true, Reason: fmt.Sprintf("unparsable expiry %q: %v", cred.ExpiresAt, err)}
	}

	remaining := expiry.Sub(now.UTC())
	switch {
	case remaining <= 0:
		return Decision{Due: true, Reason: fmt.Sprintf("already expired %d seconds ago", int64(-remaining.Seconds()))}
	case remaining < RefreshBuffer:
		return Decision{Due: true, Reason: fmt.Sprintf("expires in %d seconds (within the 5-minute buffer)", int64(remaining.Seconds()))}
	default:
		return Decision{Due: false, Reason: fmt.Sprintf("%d seconds remaining", int64(remaining.Seconds()))}
	}
}

// Manager refreshes stored credentials.
type Manager struct {
	store  *store.Store
	client *http.Client

	// socialRefreshURL is the fixed desktop refresh endpoint for Social
	// credentials.
	socialRefreshURL string
	// oidcEndpointTemplate, when set, builds the SSO-OIDC base endpoint from
	// the credential's region instead of the client's own regional resolution.
	oidcEndpointTemplate string
	// ssoCacheDir is the external SSO cache used for backfill.
	ssoCacheDir string
	// now is injectable for staleness tests.
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithSocialRefreshURL overrides the Social refresh endpoint.
func WithSocialRefreshURL(url string) Option {
	return func(m *Manager) { m.socialRefreshURL = url }
}

// WithOIDCEndpointTemplate overrides the SSO-OIDC base endpoint template. It
// must contain one %s placeholder for the region.
func WithOIDCEndpointTemplate(template string) Option {
	return func(m *Manager) { m.oidcEndpointTemplate = template }
}

// WithSSOCacheDir overrides the external SSO cache directory.
func WithSSOCacheDir(dir string) Option {
	return func(m *Manager) { m.ssoCacheDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(s *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:            s,
		client:           &http.Client{Timeout: 30 * time.Second},
		socialRefreshURL: config.DefaultSocialRefreshURL,
		now:              time.Now,
	}
	if dir, err := defaultSSOCacheDir(); err == nil {
		m.ssoCacheDir = dir
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RefreshAll loads all credentials for a provider, backfills identity-center
// client credentials where possible, and refreshes every credential that is
// due. A failure on one credential never stops evaluation of the rest.
// Returns the number of credentials actually refreshed.
func (m *Manager) RefreshAll(ctx context.Context, provider types.Provider, verbose bool) (int, error) {
	creds, err := m.store.List(provider)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, sc := range creds {
		m.backfillClientCredentials(sc)

		decision := EvaluateStaleness(sc.Credential, m.now())
		if verbose {
			fmt.Printf("[%s] %s\n", sc.Identifier(), decision.Reason)
		}
		if !decision.Due {
			continue
		}
		if !sc.Refreshable() {
			// Absence of a refresh token is a hard no-op, not an error.
			log.Debug("Credential has no refresh token, skipping", "credential", sc.Identifier())
			continue
		}

		if err := m.refreshOne(ctx, sc); err != nil {
			log.Error("Refresh failed", "credential", sc.Identifier(), "error", err)
			continue
		}
		refreshed++
		fmt.Printf("Refreshed token: %s\n", sc.Identifier())
	}

	return refreshed, nil
}

// refreshOne dispatches on the credential's auth method and writes the
// updated document back at the same storage key. The existing document is
// left untouched on any failure.
func (m *Manager) refreshOne(ctx context.Context, sc *store.StoredCredential) error {
	if !sc.Refreshable() {
		return nil
	}

	var token *types.TokenResponse
	var err error

	switch sc.AuthMethod {
	case types.AuthMethodSocial:
		token, err = m.refreshSocial(ctx, sc.RefreshToken)
	case types.AuthMethodIdC:
		if !sc.HasClientCredentials() {
			return fmt.Errorf("%w: backfill found no registration record for %q", errUtils.ErrMissingClientCredentials, sc.Identifier())
		}
		if sc.Region == "" {
			return fmt.Errorf("%w: credential %q has no region", errUtils.ErrRefreshFailed, sc.Identifier())
		}
		token, err = m.refreshIdC(ctx, sc.Credential)
	default:
		return fmt.Errorf("%w: unknown auth method %q", errUtils.ErrRefreshFailed, sc.AuthMethod)
	}
	if err != nil {
		return err
	}

	now := m.now().UTC()
	sc.AccessToken = token.AccessToken()
	if rt := token.RefreshToken(); rt != "" {
		sc.RefreshToken = rt
	}
	sc.ExpiresAt = types.FormatExpiry(now.Add(time.Duration(token.ExpiresIn()) * time.Second))
	sc.LastRefresh = types.FormatExpiry(now)

	return m.store.SaveKey(sc.Key, sc.Credential)
}

// refreshSocial posts the refresh token as JSON to the fixed refresh endpoint.
func (m *Manager) refreshSocial(ctx context.Context, refreshToken string) (*types.TokenResponse, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrRefreshFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.socialRefreshURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return m.doTokenRequest(req)
}

// refreshIdC runs a refresh_token grant through the SSO-OIDC client for the
// credential's own region, never a fixed one.
func (m *Manager) refreshIdC(ctx context.Context, cred *types.Credential) (*types.TokenResponse, error) {
	token, err := m.oidcClient(cred.Region).CreateToken(ctx, &ssooidc.CreateTokenInput{
		ClientId:     aws.String(cred.ClientID),
		ClientSecret: aws.String(cred.ClientSecret),
		GrantType:    aws.String("refresh_token"),
		RefreshToken: aws.String(cred.RefreshToken),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUtils.ErrRefreshFailed, err)
	}
	if aws.ToString(token.AccessToken) == "" {
		return nil, fmt.Errorf("%w: refresh response carried no access token", errUtils.ErrRefreshFailed)
	}

	return &types.TokenResponse{
		AccessTokenCamel:  aws.ToString(token.AccessToken),
		RefreshTokenCamel: aws.ToString(token.RefreshToken),
		ExpiresInCamel:    int64(token.ExpiresIn),
	}, nil
}

// oidcClient builds a per-region SSO-OIDC client. Token refresh is an
// unauthenticated call.
func (m *Manager) oidcClient(region string) *ssooidc.Client {
	opts := ssooidc.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  m.client,
	}
	if m.oidcEndpointTemplate != "" {
		opts.BaseEndpoint = aws.String(fmt.Sprintf(m.oidcEndpointTemplate, region))
	}
	return ssooidc.New(opts)
}

func (m *Manager) doTokenRequest(req *http.Request) (*types.TokenResponse, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrRefreshFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", errUtils.ErrRefreshFailed, resp.StatusCode, string(raw))
	}

	var token types.TokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: failed to decode refresh response: %w", errUtils.ErrRefreshFailed, err)
	}
	if token.AccessToken() == "" {
		return nil, fmt.Errorf("%w: refresh response carried no access token", errUtils.ErrRefreshFailed)
	}
	return &token, nil
}

func defaultSSOCacheDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".aws", "sso", "cache"), nil
}
