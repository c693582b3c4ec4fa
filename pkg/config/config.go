// Package config loads runtime settings from the environment. OAuth client
// credentials are never hardcoded; endpoint URLs default to the production
// services and can be overridden for testing.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Default endpoint locations for the supported provider families.
const (
	DefaultSigninURL        = "https://app.kiro.dev/signin"
	DefaultSocialTokenURL   = "https://prod.us-east-1.auth.desktop.kiro.dev/token"
	DefaultSocialRefreshURL = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
	DefaultUserInfoURL      = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultGoogleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultGoogleTokenURL   = "https://oauth2.googleapis.com/token"
	DefaultProfileURL       = "https://codewhisperer.us-east-1.amazonaws.com/listProfiles"

	// DefaultStartURL is the personal AWS Builder ID identity store.
	DefaultStartURL = "https://view.awsapps.com/start"
	// DefaultRegion is the default identity store region. Stored credentials
	// carry their own region; this only seeds new device-code flows.
	DefaultRegion = "us-east-1"
)

// Config holds all environment-derived settings.
type Config struct {
	// Google OAuth clients for the social redirect flow, per provider.
	KiroGoogleClientID      string
	KiroGoogleClientSecret  string
	AntigravityClientID     string
	AntigravityClientSecret string
	KiroGoogleScopes        []string
	AntigravityScopes       []string

	// Provider endpoints.
	SigninURL        string
	SocialTokenURL   string
	SocialRefreshURL string
	UserInfoURL      string
	ProfileURL       string
	GoogleAuthURL    string
	GoogleTokenURL   string

	// Identity-center defaults for new flows.
	StartURL string
	Region   string
}

// Load reads configuration from the environment with the QUOTIO_ prefix.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("QUOTIO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("signin_url", DefaultSigninURL)
	v.SetDefault("social_token_url", DefaultSocialTokenURL)
	v.SetDefault("social_refresh_url", DefaultSocialRefreshURL)
	v.SetDefault("userinfo_url", DefaultUserInfoURL)
	v.SetDefault("google_auth_url", DefaultGoogleAuthURL)
	v.SetDefault("google_token_url", DefaultGoogleTokenURL)
	v.SetDefault("profile_url", DefaultProfileURL)
	v.SetDefault("aws_start_url", DefaultStartURL)
	v.SetDefault("aws_region", DefaultRegion)

	return &Config{
		KiroGoogleClientID:      v.GetString("google_client_id"),
		KiroGoogleClientSecret:  v.GetString("google_client_secret"),
		AntigravityClientID:     v.GetString("antigravity_client_id"),
		AntigravityClientSecret: v.GetString("antigravity_client_secret"),
		KiroGoogleScopes:        []string{"openid", "email", "profile"},
		AntigravityScopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/cloud_code.assistants",
			"https://www.googleapis.com/auth/cloudaicompanion",
		},
		SigninURL:        v.GetString("signin_url"),
		SocialTokenURL:   v.GetString("social_token_url"),
		SocialRefreshURL: v.GetString("social_refresh_url"),
		UserInfoURL:      v.GetString("userinfo_url"),
		GoogleAuthURL:    v.GetString("google_auth_url"),
		GoogleTokenURL:   v.GetString("google_token_url"),
		ProfileURL:       v.GetString("profile_url"),
		StartURL:         v.GetString("aws_start_url"),
		Region:           v.GetString("aws_region"),
	}
}
