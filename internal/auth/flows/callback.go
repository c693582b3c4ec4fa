package flows

import (
	"context"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	errUtils "github.com/quotio/quotio-cli/errors"
)

// CallbackTimeout bounds how long a flow waits for the provider redirect.
const CallbackTimeout = 300 * time.Second

// CallbackResult is the terminal outcome captured from the provider redirect.
// Exactly one of Code or ProviderError is set.
type CallbackResult struct {
	Code          string
	ProviderError string
}

// CallbackServer is a single-use HTTP responder that captures one OAuth
// redirect. It recognizes /callback (records the outcome) and /health
// (always 200). The outcome is handed back on a channel owned by the flow
// invocation, so concurrent servers never interfere.
type CallbackServer struct {
	host     string
	port     int
	resultCh chan CallbackResult
	server   *http.Server
	listener net.Listener
}

// NewCallbackServer creates a callback server bound to host:port.
func NewCallbackServer(host string, port int) *CallbackServer {
	return &CallbackServer{
		host:     host,
		port:     port,
		resultCh: make(chan CallbackResult, 1),
	}
}

// Start binds the socket and begins serving. The server owns its socket until
// Stop is called; all flow exit paths must call Stop.
func (s *CallbackServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.resultCh <- CallbackResult{ProviderError: err.Error()}:
			default:
			}
		}
	}()

	return nil
}

func (s *CallbackServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "OK")
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var result CallbackResult
	var message string
	switch {
	case query.Get("error") != "":
		result.ProviderError = query.Get("error")
		message = "Authentication failed: " + html.EscapeString(result.ProviderError)
	case query.Get("code") != "":
		result.Code = query.Get("code")
		message = "Authentication successful! You can close this page."
	default:
		result.ProviderError = "missing authorization code"
		message = "Authentication failed: the redirect carried no authorization code."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h2>%s</h2></body></html>", message)

	select {
	case s.resultCh <- result:
	default:
	}
}

// Wait blocks until a terminal callback arrives or the timeout lapses. A
// lapsed timeout is reported as ErrAuthTimeout, never silently ignored.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-s.resultCh:
		return result, nil
	case <-ctx.Done():
		return CallbackResult{}, fmt.Errorf("%w: no callback received within %s", errUtils.ErrAuthTimeout, timeout)
	}
}

// Stop releases the socket. Safe to call on every exit path.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
}

// Port returns the bound port, useful when the server was started on port 0.
func (s *CallbackServer) Port() int {
	return s.port
}

// RedirectURI builds the redirect URI handed to the provider, using the
// externally reachable callback host rather than the bind address.
func (s *CallbackServer) RedirectURI(callbackHost string) string {
	return fmt.Sprintf("http://%s:%d/callback", callbackHost, s.port)
}

// DetectCallbackHost resolves the host's externally reachable address for the
// redirect URI: public IP via ipify, then the outbound-interface local IP,
// then localhost.
func DetectCallbackHost(client *http.Client) string {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	if resp, err := client.Get("https://api.ipify.org"); err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
			if err == nil {
				if ip := strings.TrimSpace(string(body)); ip != "" {
					return ip
				}
			}
		}
	}

	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.IP.String()
		}
	}

	return "localhost"
}
