package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "rfc3339",
			value: "2026-03-01T10:30:00Z",
			want:  time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "iso with fractional seconds and zone suffix",
			value: "2026-03-01T10:30:00.123456Z",
			want:  time.Date(2026, 3, 1, 10, 30, 0, 123456000, time.UTC),
		},
		{
			name:  "naive iso without suffix",
			value: "2026-03-01T10:30:00",
			want:  time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:    "garbage",
			value:   "not-a-timestamp",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpiry(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestFormatExpiryRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 500000000, time.UTC)
	formatted := FormatExpiry(now)

	assert.Contains(t, formatted, "Z")

	parsed, err := ParseExpiry(formatted)
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}

func TestTokenResponseAccessors(t *testing.T) {
	tests := []struct {
		name        string
		resp        TokenResponse
		wantAccess  string
		wantRefresh string
		wantExpires int64
	}{
		{
			name: "snake case shape",
			resp: TokenResponse{
				AccessTokenSnake:  "at",
				RefreshTokenSnake: "rt",
				ExpiresInSnake:    1800,
			},
			wantAccess:  "at",
			wantRefresh: "rt",
			wantExpires: 1800,
		},
		{
			name: "camel case shape",
			resp: TokenResponse{
				AccessTokenCamel:  "at",
				RefreshTokenCamel: "rt",
				ExpiresInCamel:    900,
			},
			wantAccess:  "at",
			wantRefresh: "rt",
			wantExpires: 900,
		},
		{
			name:        "expires_in defaults to one hour",
			resp:        TokenResponse{AccessTokenCamel: "at"},
			wantAccess:  "at",
			wantRefresh: "",
			wantExpires: 3600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAccess, tt.resp.AccessToken())
			assert.Equal(t, tt.wantRefresh, tt.resp.RefreshToken())
			assert.Equal(t, tt.wantExpires, tt.resp.ExpiresIn())
		})
	}
}

func TestCredentialPredicates(t *testing.T) {
	cred := &Credential{}
	assert.False(t, cred.Refreshable())
	assert.False(t, cred.HasClientCredentials())

	cred.RefreshToken = "rt"
	cred.ClientID = "id"
	assert.True(t, cred.Refreshable())
	assert.False(t, cred.HasClientCredentials(), "secret still missing")

	cred.ClientSecret = "secret"
	assert.True(t, cred.HasClientCredentials())
}
