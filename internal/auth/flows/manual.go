package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	log "github.com/charmbracelet/log"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

// IdCRedirect signals that the pasted callback URL selected an identity-center
// login path; the caller should re-dispatch to the device-code flow with these
// parameters.
type IdCRedirect struct {
	IssuerURL string
	Region    string
}

// ManualFlow is the copy-paste PKCE flow for headless hosts without a
// reachable callback. The authorization URL carries a synthetic redirect_uri
// pointing at an unbound local port: the browser redirect is expected to fail
// to load, and the operator pastes the failed URL back. This is intentional,
// not a bug — do not bind a listener for it.
type ManualFlow struct {
	Provider  types.Provider
	SigninURL string
	TokenURL  string
	Store     *store.Store
	Resolver  IdentityResolver

	HTTPClient *http.Client
	// Prompt collects the pasted callback URL from the operator. Defaults to
	// an interactive terminal prompt.
	Prompt func(title string) (string, error)
	// Output receives operator-facing progress lines.
	Output io.Writer
}

// Run executes the flow. On an identity-center redirect it returns a non-nil
// IdCRedirect instead of a credential.
func (f *ManualFlow) Run(ctx context.Context) (*types.Credential, *IdCRedirect, error) {
	if f.HTTPClient == nil {
		f.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if f.Output == nil {
		f.Output = os.Stdout
	}
	if f.Prompt == nil {
		f.Prompt = terminalPrompt
	}
	if f.Resolver == nil {
		f.Resolver = NewIdentityResolver()
	}

	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}

	// Arbitrary ephemeral port; nothing listens there on purpose.
	redirectURI := fmt.Sprintf("http://localhost:%d", 49152+rand.Intn(65536-49152))

	params := url.Values{}
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("redirect_uri", redirectURI)
	params.Set("redirect_from", "kirocli")
	params.Set("response_type", "code")
	authURL := f.SigninURL + "?" + params.Encode()

	fmt.Fprintf(f.Output, "\n1. Open the following URL in a browser on a local device:\n\n%s\n\n", authURL)
	fmt.Fprintln(f.Output, "2. Log in and authorize.")
	fmt.Fprintln(f.Output, "3. The browser will redirect to a localhost URL which fails to load.")
	fmt.Fprintln(f.Output, "4. Copy the entire failed URL from the address bar and paste it below.")

	pasted, err := f.Prompt("Callback URL")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errUtils.ErrInvalidCallback, err)
	}
	if pasted == "" {
		return nil, nil, fmt.Errorf("%w: empty callback URL", errUtils.ErrInvalidCallback)
	}

	parsed, err := url.Parse(pasted)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unparsable callback URL: %w", errUtils.ErrInvalidCallback, err)
	}
	query := parsed.Query()

	if query.Get("login_option") == "awsidc" {
		log.Debug("Identity-center login detected in callback", "issuer_url", query.Get("issuer_url"))
		return nil, &IdCRedirect{
			IssuerURL: query.Get("issuer_url"),
			Region:    query.Get("idc_region"),
		}, nil
	}

	if providerErr := query.Get("error"); providerErr != "" {
		return nil, nil, fmt.Errorf("%w: %s", errUtils.ErrProviderRejected, providerErr)
	}
	code := query.Get("code")
	if code == "" {
		return nil, nil, fmt.Errorf("%w: no code parameter in callback URL", errUtils.ErrInvalidCallback)
	}

	fmt.Fprintln(f.Output, "\nExchanging code for token...")
	token, err := f.exchangeCode(ctx, code, verifier, redirectURI)
	if err != nil {
		return nil, nil, err
	}

	// Identifier resolution is best-effort: a failed decode never fails a
	// flow that already obtained a token.
	email, ok := f.Resolver.EmailFromIDToken(token.IDToken)
	if !ok {
		email = FallbackIdentifier()
	}

	cred := &types.Credential{
		Type:         f.Provider,
		AuthMethod:   types.AuthMethodSocial,
		AccessToken:  token.AccessToken(),
		RefreshToken: token.RefreshToken(),
		ExpiresAt:    types.FormatExpiry(time.Now().Add(time.Duration(token.ExpiresIn()) * time.Second)),
		Email:        email,
	}

	if err := f.Store.Save(f.Provider, email, cred); err != nil {
		return nil, nil, err
	}

	fmt.Fprintf(f.Output, "\nAuthenticated as: %s\n", email)
	return cred, nil, nil
}

// exchangeCode redeems the authorization code with the PKCE verifier at the
// fixed token endpoint. The endpoint speaks JSON, not form encoding.
func (f *ManualFlow) exchangeCode(ctx context.Context, code, verifier, redirectURI string) (*types.TokenResponse, error) {
	body, err := json.Marshal(map[string]string{
		"code":          code,
		"code_verifier": verifier,
		"redirect_uri":  redirectURI,
		"grant_type":    "authorization_code",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUtils.ErrAuthenticationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "QuotioCLI/0.1.0")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %w", errUtils.ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: token endpoint returned HTTP %d: %s", errUtils.ErrProviderRejected, resp.StatusCode, string(raw))
	}

	var token types.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%w: failed to decode token response: %w", errUtils.ErrAuthenticationFailed, err)
	}
	return &token, nil
}

// terminalPrompt asks for a single line of input interactively.
func terminalPrompt(title string) (string, error) {
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Value(&value),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return value, nil
}
