package flows

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

// deviceScript scripts the OIDC endpoints for one flow run.
type deviceScript struct {
	pendingCalls  int
	slowDownCalls int
	failWith      string // terminal error body for /token, if set

	tokenCalls      int
	registerScopes  []string
	registerPayload map[string]any
}

func (d *deviceScript) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/client/register", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &d.registerPayload))
		if scopes, ok := d.registerPayload["scopes"].([]any); ok {
			for _, s := range scopes {
				d.registerScopes = append(d.registerScopes, s.(string))
			}
		}
		json.NewEncoder(w).Encode(map[string]string{
			"clientId":     "client-id",
			"clientSecret": "client-secret",
		})
	})

	mux.HandleFunc("/device_authorization", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deviceCode":              "device-code",
			"userCode":                "USER-CODE",
			"verificationUriComplete": "https://device.example.com/verify?code=USER-CODE",
			"interval":                1,
			"expiresIn":               600,
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		d.tokenCalls++
		writeErr := func(code string) {
			w.Header().Set("X-Amzn-Errortype", code)
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": code})
		}
		switch {
		case d.failWith != "":
			writeErr(d.failWith)
		case d.tokenCalls <= d.pendingCalls:
			writeErr("AuthorizationPendingException")
		case d.tokenCalls <= d.pendingCalls+d.slowDownCalls:
			writeErr("SlowDownException")
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"accessToken":  "access-token",
				"refreshToken": "refresh-token",
				"expiresIn":    3600,
			})
		}
	})

	mux.HandleFunc("/listProfiles", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"profiles": []map[string]string{{"arn": "arn:aws:codewhisperer:::profile/test"}},
		})
	})

	return mux
}

func newDeviceFlow(t *testing.T, ts *httptest.Server, startURL string, sleeps *[]time.Duration) *DeviceFlow {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	return &DeviceFlow{
		Provider:     types.ProviderKiro,
		StartURL:     startURL,
		Region:       "us-east-1",
		Store:        st,
		EndpointBase: ts.URL,
		ProfileURL:   ts.URL + "/listProfiles",
		HTTPClient:   ts.Client(),
		Sleep:        func(d time.Duration) { *sleeps = append(*sleeps, d) },
		Output:       io.Discard,
	}
}

func TestDeviceFlowSucceedsAfterPending(t *testing.T) {
	script := &deviceScript{pendingCalls: 3}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	var sleeps []time.Duration
	flow := newDeviceFlow(t, ts, "https://view.awsapps.com/start", &sleeps)

	cred, err := flow.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, script.tokenCalls, "success on call N+1")
	assert.Equal(t, types.AuthMethodIdC, cred.AuthMethod)
	assert.Equal(t, "access-token", cred.AccessToken)
	assert.Equal(t, "refresh-token", cred.RefreshToken)
	assert.Equal(t, "client-id", cred.ClientID)
	assert.Equal(t, "client-secret", cred.ClientSecret)
	assert.Equal(t, "us-east-1", cred.Region)
	assert.Equal(t, "arn:aws:codewhisperer:::profile/test", cred.ProfileArn)

	// Pending responses never change the interval.
	for _, d := range sleeps {
		assert.Equal(t, time.Second, d)
	}

	saved, err := flow.Store.Load(types.ProviderKiro, "aws-builder-id")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, cred.AccessToken, saved.AccessToken)
}

func TestDeviceFlowSlowDownGrowsInterval(t *testing.T) {
	script := &deviceScript{slowDownCalls: 2}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	var sleeps []time.Duration
	flow := newDeviceFlow(t, ts, "https://view.awsapps.com/start", &sleeps)

	_, err := flow.Run(context.Background())
	require.NoError(t, err)

	// First poll waits the initial interval; after each slow_down the loop
	// must wait the latest (grown) interval, never the original.
	require.Len(t, sleeps, 3)
	assert.Equal(t, 1*time.Second, sleeps[0])
	assert.Equal(t, 6*time.Second, sleeps[1])
	assert.Equal(t, 11*time.Second, sleeps[2])
}

func TestDeviceFlowTerminalProviderError(t *testing.T) {
	script := &deviceScript{failWith: "ExpiredTokenException"}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	var sleeps []time.Duration
	flow := newDeviceFlow(t, ts, "https://view.awsapps.com/start", &sleeps)

	_, err := flow.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errUtils.ErrProviderRejected)
	assert.Contains(t, err.Error(), "ExpiredTokenException")
	assert.Equal(t, 1, script.tokenCalls, "terminal errors stop polling immediately")
}

func TestDeviceFlowPollCap(t *testing.T) {
	script := &deviceScript{pendingCalls: 1000}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	var sleeps []time.Duration
	flow := newDeviceFlow(t, ts, "https://view.awsapps.com/start", &sleeps)

	_, err := flow.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errUtils.ErrAuthTimeout)
	assert.Equal(t, 60, script.tokenCalls)
}

func TestDeviceFlowScopesByIdentityStore(t *testing.T) {
	tests := []struct {
		name           string
		startURL       string
		wantExtraScope bool
	}{
		{name: "personal builder id", startURL: "https://view.awsapps.com/start", wantExtraScope: false},
		{name: "enterprise identity center", startURL: "https://acme.awsapps.com/start", wantExtraScope: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &deviceScript{}
			ts := httptest.NewServer(script.handler(t))
			defer ts.Close()

			var sleeps []time.Duration
			flow := newDeviceFlow(t, ts, tt.startURL, &sleeps)

			_, err := flow.Run(context.Background())
			require.NoError(t, err)

			assert.Contains(t, script.registerScopes, "codewhisperer:completions")
			if tt.wantExtraScope {
				assert.Contains(t, script.registerScopes, "sso:account:access")
			} else {
				assert.NotContains(t, script.registerScopes, "sso:account:access")
			}
			assert.Equal(t, tt.startURL, script.registerPayload["issuerUrl"])
		})
	}
}

func TestDeviceFlowProfileFailureIsNotFatal(t *testing.T) {
	script := &deviceScript{}
	ts := httptest.NewServer(script.handler(t))
	defer ts.Close()

	var sleeps []time.Duration
	flow := newDeviceFlow(t, ts, "https://view.awsapps.com/start", &sleeps)
	flow.ProfileURL = ts.URL + "/no-such-path"

	cred, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cred.ProfileArn)
	assert.Equal(t, "access-token", cred.AccessToken)
}
