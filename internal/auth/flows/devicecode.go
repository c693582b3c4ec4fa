package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	log "github.com/charmbracelet/log"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

const (
	// devicePollMaxAttempts caps the token poll loop. Combined with a growing
	// interval this shrinks the effective wall-clock window when the provider
	// keeps answering slow_down; the attempt-based cap is kept deliberately to
	// match the provider client it imitates.
	devicePollMaxAttempts = 60

	// defaultPollInterval is used when the device authorization response
	// omits an interval.
	defaultPollInterval = 5 * time.Second

	// slowDownIncrement is added to the poll interval on each slow_down
	// response. The interval only ever grows.
	slowDownIncrement = 5 * time.Second

	// builderIDHost marks a personal AWS Builder ID start URL; enterprise
	// identity stores get an extra account-access scope.
	builderIDHost = "view.awsapps.com"

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// DeviceFlow implements the OIDC device-code grant against an AWS-style
// identity center: dynamic client registration, device authorization, then
// token polling, all through the SSO-OIDC service client. Each of the three
// steps is independently retryable by re-running the command; the flow itself
// never re-registers.
type DeviceFlow struct {
	Provider types.Provider
	StartURL string
	Region   string
	Store    *store.Store

	// EndpointBase overrides the SSO-OIDC endpoint, primarily for tests.
	// When empty the client resolves the regional endpoint itself.
	EndpointBase string
	// ProfileURL is the listing endpoint for post-auth profile resolution.
	ProfileURL string

	HTTPClient *http.Client
	// Sleep is injectable so tests can observe poll pacing.
	Sleep func(time.Duration)
	// Output receives operator-facing progress lines.
	Output io.Writer
}

// Run executes the three-step device flow and persists the credential.
func (f *DeviceFlow) Run(ctx context.Context) (*types.Credential, error) {
	if f.HTTPClient == nil {
		f.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if f.Sleep == nil {
		f.Sleep = time.Sleep
	}
	if f.Output == nil {
		f.Output = os.Stdout
	}

	client := f.oidcClient()

	fmt.Fprintf(f.Output, "\nStart URL: %s\nRegion: %s\n", f.StartURL, f.Region)

	fmt.Fprintln(f.Output, "\nRegistering device client...")
	reg, err := f.registerClient(ctx, client)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(f.Output, "Requesting device code...")
	auth, err := client.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     reg.ClientId,
		ClientSecret: reg.ClientSecret,
		StartUrl:     aws.String(f.StartURL),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: device authorization failed: %v", errUtils.ErrAuthenticationFailed, err)
	}
	if aws.ToString(auth.DeviceCode) == "" {
		return nil, fmt.Errorf("%w: device authorization response missing device code", errUtils.ErrAuthenticationFailed)
	}

	fmt.Fprintf(f.Output, "\nUser code: %s\n", aws.ToString(auth.UserCode))
	fmt.Fprintf(f.Output, "\nOpen the following URL in a browser on any device:\n\n%s\n\n", aws.ToString(auth.VerificationUriComplete))
	fmt.Fprintln(f.Output, "Waiting for authentication...")

	token, err := f.pollToken(ctx, client, reg, auth)
	if err != nil {
		return nil, err
	}

	expiresIn := int64(token.ExpiresIn)
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	cred := &types.Credential{
		Type:         f.Provider,
		AuthMethod:   types.AuthMethodIdC,
		AccessToken:  aws.ToString(token.AccessToken),
		RefreshToken: aws.ToString(token.RefreshToken),
		ExpiresAt:    types.FormatExpiry(time.Now().Add(time.Duration(expiresIn) * time.Second)),
		ClientID:     aws.ToString(reg.ClientId),
		ClientSecret: aws.ToString(reg.ClientSecret),
		StartURL:     f.StartURL,
		Region:       f.Region,
	}

	// Enterprise accounts commonly lack permission for the profile listing;
	// a miss is logged, never fatal.
	if arn, err := f.fetchProfileArn(ctx, cred.AccessToken); err != nil {
		log.Warn("Could not resolve profile identifier", "error", err)
	} else if arn != "" {
		cred.ProfileArn = arn
	}

	if err := f.Store.Save(f.Provider, "aws-builder-id", cred); err != nil {
		return nil, err
	}

	fmt.Fprintln(f.Output, "\nAuthentication successful!")
	return cred, nil
}

// oidcClient builds the SSO-OIDC client for the flow's region. Registration,
// device authorization and token creation are all unauthenticated calls.
func (f *DeviceFlow) oidcClient() *ssooidc.Client {
	opts := ssooidc.Options{
		Region:      f.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  f.HTTPClient,
	}
	if f.EndpointBase != "" {
		opts.BaseEndpoint = aws.String(f.EndpointBase)
	}
	return ssooidc.New(opts)
}

// scopes returns the registration scopes, conditioned on whether the start
// URL targets a personal Builder ID or an enterprise identity store.
func (f *DeviceFlow) scopes() []string {
	scopes := []string{"codewhisperer:completions", "codewhisperer:analysis"}
	if !strings.Contains(f.StartURL, builderIDHost) {
		scopes = append(scopes, "sso:account:access")
	}
	return scopes
}

func (f *DeviceFlow) registerClient(ctx context.Context, client *ssooidc.Client) (*ssooidc.RegisterClientOutput, error) {
	reg, err := client.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String("Kiro"),
		ClientType: aws.String("public"),
		Scopes:     f.scopes(),
		GrantTypes: []string{deviceCodeGrantType, "refresh_token"},
		IssuerUrl:  aws.String(f.StartURL),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: client registration failed: %v", errUtils.ErrAuthenticationFailed, err)
	}
	if aws.ToString(reg.ClientId) == "" || aws.ToString(reg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: registration response missing client credentials", errUtils.ErrAuthenticationFailed)
	}

	log.Debug("Device client registered", "clientId", truncate(aws.ToString(reg.ClientId), 16))
	return reg, nil
}

// pollToken resubmits the device code until a terminal outcome: success, a
// provider error other than pending/slow_down, or the attempt cap. The loop
// always sleeps the latest interval, which grows on slow_down and never
// shrinks.
func (f *DeviceFlow) pollToken(ctx context.Context, client *ssooidc.Client, reg *ssooidc.RegisterClientOutput, auth *ssooidc.StartDeviceAuthorizationOutput) (*ssooidc.CreateTokenOutput, error) {
	interval := defaultPollInterval
	if auth.Interval > 0 {
		interval = time.Duration(auth.Interval) * time.Second
	}

	for attempt := 0; attempt < devicePollMaxAttempts; attempt++ {
		f.Sleep(interval)

		token, err := client.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     reg.ClientId,
			ClientSecret: reg.ClientSecret,
			DeviceCode:   auth.DeviceCode,
			GrantType:    aws.String(deviceCodeGrantType),
		})
		if err == nil {
			return token, nil
		}

		var pendingErr *oidctypes.AuthorizationPendingException
		var slowDownErr *oidctypes.SlowDownException

		switch {
		case errors.As(err, &pendingErr):
			fmt.Fprint(f.Output, ".")
		case errors.As(err, &slowDownErr):
			interval += slowDownIncrement
			log.Debug("Provider requested slower polling", "interval", interval)
		default:
			return nil, fmt.Errorf("%w: %v", errUtils.ErrProviderRejected, err)
		}
	}

	return nil, fmt.Errorf("%w: device authorization was not completed within %d poll attempts", errUtils.ErrAuthTimeout, devicePollMaxAttempts)
}

// fetchProfileArn best-effort resolves the first profile identifier exposed
// to the new token. The listing endpoint is a CodeWhisperer API, not part of
// the SSO-OIDC surface, so it is called directly.
func (f *DeviceFlow) fetchProfileArn(ctx context.Context, accessToken string) (string, error) {
	if f.ProfileURL == "" {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ProfileURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("profile listing returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 100))
	}

	var listing struct {
		Profiles []struct {
			Arn string `json:"arn"`
		} `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return "", err
	}
	if len(listing.Profiles) == 0 {
		return "", nil
	}
	return listing.Profiles[0].Arn, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
