package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	log "github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

// SocialFlow drives the redirect + local-callback OAuth flow against a
// Google-style provider. The operator completes the authorization URL
// out-of-band; the flow blocks on the local callback listener.
type SocialFlow struct {
	Provider     types.Provider
	OAuth        oauth2.Config
	UserInfoURL  string
	Host         string
	Port         int
	CallbackHost string
	Store        *store.Store

	// HTTPClient is used for the token exchange and the user-info call.
	HTTPClient *http.Client
	// Timeout bounds the callback wait. Defaults to CallbackTimeout.
	Timeout time.Duration
	// Output receives operator-facing progress lines.
	Output io.Writer
}

type userInfo struct {
	Email string `json:"email"`
}

// Run executes the flow and persists the resulting credential keyed by the
// resolved email. Nothing is persisted on provider error or timeout.
func (f *SocialFlow) Run(ctx context.Context) (*types.Credential, error) {
	if f.OAuth.ClientID == "" || f.OAuth.ClientSecret == "" {
		return nil, fmt.Errorf("%w: OAuth client id and secret are required (set them in the environment)", errUtils.ErrInvalidFlowConfig)
	}
	if f.HTTPClient == nil {
		f.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if f.Timeout == 0 {
		f.Timeout = CallbackTimeout
	}
	if f.Output == nil {
		f.Output = os.Stdout
	}

	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}

	srv := NewCallbackServer(f.Host, f.Port)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}
	defer srv.Stop()

	callbackHost := f.CallbackHost
	if callbackHost == "" {
		callbackHost = DetectCallbackHost(nil)
	}
	f.OAuth.RedirectURL = srv.RedirectURI(callbackHost)

	authURL := f.OAuth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	fmt.Fprintf(f.Output, "\nCallback server: %s\n", f.OAuth.RedirectURL)
	fmt.Fprintf(f.Output, "\nOpen the following URL in a browser to authenticate:\n\n%s\n\n", authURL)
	fmt.Fprintln(f.Output, "Waiting for authentication...")

	result, err := srv.Wait(ctx, f.Timeout)
	if err != nil {
		return nil, err
	}
	if result.ProviderError != "" {
		return nil, fmt.Errorf("%w: %s", errUtils.ErrProviderRejected, result.ProviderError)
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	token, err := f.OAuth.Exchange(exchangeCtx, result.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %w", errUtils.ErrAuthenticationFailed, err)
	}

	email, err := f.fetchEmail(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch user info: %w", errUtils.ErrAuthenticationFailed, err)
	}

	cred := &types.Credential{
		Type:         f.Provider,
		AuthMethod:   types.AuthMethodSocial,
		Provider:     "Google",
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    types.FormatExpiry(token.Expiry),
		Email:        email,
	}

	if err := f.Store.Save(f.Provider, email, cred); err != nil {
		return nil, err
	}

	log.Debug("Social authentication complete", "provider", f.Provider, "email", email)
	return cred, nil
}

// fetchEmail resolves the account email from the provider's user-info
// endpoint using the freshly issued access token.
func (f *SocialFlow) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: userinfo returned HTTP %d: %s", errUtils.ErrProviderRejected, resp.StatusCode, string(body))
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" {
		return FallbackIdentifier(), nil
	}
	return info.Email, nil
}
