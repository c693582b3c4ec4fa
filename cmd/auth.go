package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/flows"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
	"github.com/quotio/quotio-cli/pkg/config"
)

var (
	authMethod       string
	authPort         int
	authHost         string
	authCallbackHost string
	authStartURL     string
	authRegion       string
)

// authCmd authenticates against a provider and persists the credential.
var authCmd = &cobra.Command{
	Use:   "auth <provider>",
	Short: "Authenticate against a provider",
	Long: "Authenticate against `kiro` or `antigravity`. Kiro supports Google " +
		"OAuth with a local callback (`google`), an AWS identity-center " +
		"device-code flow (`aws`), and a copy-paste PKCE flow for hosts with no " +
		"reachable callback (`manual`).",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"kiro", "antigravity"},
	RunE:      executeAuthCommand,
}

func executeAuthCommand(cmd *cobra.Command, args []string) error {
	provider := types.Provider(args[0])

	cfg := config.Load()
	if authStartURL != "" {
		cfg.StartURL = authStartURL
	}
	if authRegion != "" {
		cfg.Region = authRegion
	}

	dir, err := store.DefaultDir()
	if err != nil {
		return err
	}
	st, err := store.New(dir)
	if err != nil {
		return err
	}

	ctx := context.Background()

	var cred *types.Credential
	switch provider {
	case types.ProviderAntigravity:
		cred, err = runSocialFlow(ctx, cfg, st, provider)
	case types.ProviderKiro:
		switch authMethod {
		case "google":
			cred, err = runSocialFlow(ctx, cfg, st, provider)
		case "aws", "aws-device-code":
			cred, err = runDeviceFlow(ctx, cfg, st)
		case "manual":
			cred, err = runManualFlow(ctx, cfg, st)
		default:
			return fmt.Errorf("%w: unknown auth method %q", errUtils.ErrInvalidFlowConfig, authMethod)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", errUtils.ErrInvalidFlowConfig, provider)
	}
	if err != nil {
		return err
	}

	printAuthSuccess(cred)
	return nil
}

func runSocialFlow(ctx context.Context, cfg *config.Config, st *store.Store, provider types.Provider) (*types.Credential, error) {
	clientID := cfg.KiroGoogleClientID
	clientSecret := cfg.KiroGoogleClientSecret
	scopes := cfg.KiroGoogleScopes
	if provider == types.ProviderAntigravity {
		clientID = cfg.AntigravityClientID
		clientSecret = cfg.AntigravityClientSecret
		scopes = cfg.AntigravityScopes
	}

	flow := &flows.SocialFlow{
		Provider: provider,
		OAuth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.GoogleAuthURL,
				TokenURL: cfg.GoogleTokenURL,
			},
		},
		UserInfoURL:  cfg.UserInfoURL,
		Host:         authHost,
		Port:         authPort,
		CallbackHost: authCallbackHost,
		Store:        st,
	}
	return flow.Run(ctx)
}

func runDeviceFlow(ctx context.Context, cfg *config.Config, st *store.Store) (*types.Credential, error) {
	flow := &flows.DeviceFlow{
		Provider:   types.ProviderKiro,
		StartURL:   cfg.StartURL,
		Region:     cfg.Region,
		ProfileURL: cfg.ProfileURL,
		Store:      st,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	return flow.Run(ctx)
}

func runManualFlow(ctx context.Context, cfg *config.Config, st *store.Store) (*types.Credential, error) {
	flow := &flows.ManualFlow{
		Provider:  types.ProviderKiro,
		SigninURL: cfg.SigninURL,
		TokenURL:  cfg.SocialTokenURL,
		Store:     st,
	}

	cred, redirect, err := flow.Run(ctx)
	if err != nil {
		return nil, err
	}
	if redirect != nil {
		// The signin page selected an identity-center login; finish with the
		// device-code flow against the embedded issuer and region.
		fmt.Println("\nDetected AWS Identity Center login, switching to device-code flow...")
		if redirect.IssuerURL != "" {
			cfg.StartURL = redirect.IssuerURL
		}
		if redirect.Region != "" {
			cfg.Region = redirect.Region
		}
		return runDeviceFlow(ctx, cfg, st)
	}
	return cred, nil
}

// printAuthSuccess renders a summary box for the stored credential.
func printAuthSuccess(cred *types.Credential) {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Width(60)
	labelStyle := lipgloss.NewStyle().Width(12)
	valueStyle := lipgloss.NewStyle().Bold(true)

	lines := []string{
		valueStyle.Render("Authentication Successful!"),
		"",
		labelStyle.Render("Provider:") + " " + valueStyle.Render(string(cred.Type)),
		labelStyle.Render("Method:") + " " + valueStyle.Render(string(cred.AuthMethod)),
	}
	if cred.Email != "" {
		lines = append(lines, labelStyle.Render("Account:")+" "+valueStyle.Render(cred.Email))
	}
	if cred.Region != "" {
		lines = append(lines, labelStyle.Render("Region:")+" "+valueStyle.Render(cred.Region))
	}
	if expiry, err := cred.ExpiresAtTime(); err == nil {
		lines = append(lines, labelStyle.Render("Expires:")+" "+valueStyle.Render(expiry.Format("2006-01-02 15:04:05 MST")))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	fmt.Fprintln(os.Stderr, "\n"+boxStyle.Render(content)+"\n")
}

func init() {
	authCmd.Flags().StringVar(&authMethod, "method", "google", "Authentication method for kiro: google, aws, aws-device-code, or manual")
	authCmd.Flags().IntVar(&authPort, "port", 8765, "OAuth callback server port")
	authCmd.Flags().StringVar(&authHost, "host", "0.0.0.0", "OAuth callback server bind address")
	authCmd.Flags().StringVar(&authCallbackHost, "callback-host", "", "Hostname/IP for the callback URL (auto-detected when empty)")
	authCmd.Flags().StringVar(&authStartURL, "start-url", "", "AWS IAM Identity Center start URL (enterprise accounts)")
	authCmd.Flags().StringVar(&authRegion, "region", "", "AWS identity store region")

	rootCmd.AddCommand(authCmd)
}
