package flows

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/quotio/quotio-cli/errors"
)

func startTestCallbackServer(t *testing.T) *CallbackServer {
	t.Helper()
	srv := NewCallbackServer("127.0.0.1", 0)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func TestCallbackServerCapturesCode(t *testing.T) {
	srv := startTestCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=abc123&state=xyz", srv.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "successful")

	result, err := srv.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.Code)
	assert.Empty(t, result.ProviderError)
}

func TestCallbackServerCapturesProviderError(t *testing.T) {
	srv := startTestCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?error=access_denied", srv.Port()))
	require.NoError(t, err)
	resp.Body.Close()

	result, err := srv.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", result.ProviderError)
	assert.Empty(t, result.Code)
}

func TestCallbackServerMissingCode(t *testing.T) {
	srv := startTestCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback", srv.Port()))
	require.NoError(t, err)
	resp.Body.Close()

	result, err := srv.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "missing authorization code", result.ProviderError)
}

func TestCallbackServerHealth(t *testing.T) {
	srv := startTestCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", srv.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallbackServerTimeoutIsAFailure(t *testing.T) {
	srv := startTestCallbackServer(t)

	_, err := srv.Wait(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errUtils.ErrAuthTimeout)
}

func TestCallbackServerRedirectURI(t *testing.T) {
	srv := startTestCallbackServer(t)

	uri := srv.RedirectURI("203.0.113.7")
	assert.Equal(t, fmt.Sprintf("http://203.0.113.7:%d/callback", srv.Port()), uri)
}

func TestConcurrentServersDoNotInterfere(t *testing.T) {
	first := startTestCallbackServer(t)
	second := startTestCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=first-code", first.Port()))
	require.NoError(t, err)
	resp.Body.Close()

	result, err := first.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first-code", result.Code)

	_, err = second.Wait(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, errUtils.ErrAuthTimeout)
}
