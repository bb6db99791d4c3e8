// Package authflow runs the local OAuth loopback receiver: an ephemeral HTTP
// server bound to a fixed loopback address that accepts exactly one
// authorization response, holds the PKCE and state secrets for the flow, and
// shuts itself down.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

const (
	// DefaultWaitTimeout bounds WaitForCallback when the caller passes zero.
	DefaultWaitTimeout = 300 * time.Second
	// pollInterval is the WaitForCallback tick.
	pollInterval = 100 * time.Millisecond
	// lingerAfterResponse keeps the server alive briefly so the browser can
	// finish rendering the response page before the listener dies.
	lingerAfterResponse = 2 * time.Second
	// shutdownGrace bounds how long Close waits for the serve loop to end.
	shutdownGrace = 5 * time.Second
)

// CallbackResult is the outcome of one authorization round-trip.
type CallbackResult struct {
	Code           string
	State          string
	Err            string
	ErrDescription string
}

// Server receives one OAuth authorization response on a pre-registered
// loopback URL. The redirect URI is registered with the identity provider,
// so a fallback to a random port is not allowed: if the configured port is
// occupied, Start fails loudly.
type Server struct {
	cfg    common.CallbackConfig
	logger *common.Logger

	verifier  string
	challenge string
	state     string

	httpSrv  *http.Server
	listener net.Listener

	mu     sync.Mutex
	result *CallbackResult
	done   chan struct{}
	closed sync.Once
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a loopback server with a fresh PKCE pair and state nonce.
// The code verifier never leaves this process; it is consumed exactly once
// by the token exchange.
func NewServer(cfg common.CallbackConfig, opts ...ServerOption) (*Server, error) {
	verifier := oauth2.GenerateVerifier()

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    common.NewSilentLogger(),
		verifier:  verifier,
		challenge: oauth2.S256ChallengeFromVerifier(verifier),
		state:     base64.RawURLEncoding.EncodeToString(stateBytes),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// PKCE returns the public half of the PKCE pair plus the state nonce, ready
// to embed in an authorization URL.
func (s *Server) PKCE() interfaces.PKCEParams {
	return interfaces.PKCEParams{
		Challenge: s.challenge,
		Method:    "S256",
		State:     s.state,
	}
}

// Verifier returns the private PKCE verifier for the token exchange.
func (s *Server) Verifier() string { return s.verifier }

// State returns the outgoing state nonce. Callers must compare it
// byte-for-byte against the state echoed in the callback.
func (s *Server) State() string { return s.state }

// RedirectURI returns the loopback redirect URI this server listens on.
func (s *Server) RedirectURI() string { return s.cfg.RedirectURI() }

// Start binds the fixed loopback address and begins serving.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("callback port %s unavailable: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc(path, s.handleCallback)

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Debug().Err(err).Msg("Loopback serve loop ended")
		}
	}()

	s.logger.Debug().Str("addr", addr).Msg("OAuth loopback server listening")
	return nil
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	already := s.result != nil
	s.mu.Unlock()
	if already {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("code") != "":
		s.setResult(&CallbackResult{Code: q.Get("code"), State: q.Get("state")})
		s.renderHTML(w, successPage())
	case q.Get("error") != "":
		s.setResult(&CallbackResult{
			Err:            q.Get("error"),
			ErrDescription: q.Get("error_description"),
		})
		s.renderHTML(w, errorPage(q.Get("error"), q.Get("error_description")))
	default:
		s.renderHTML(w, errorPage("invalid_request", "the authorization response carried neither a code nor an error"))
	}

	// The browser has its page; wind the listener down shortly after.
	time.AfterFunc(lingerAfterResponse, func() { s.Close() })
}

func (s *Server) setResult(res *CallbackResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		s.result = res
		close(s.done)
	}
}

func (s *Server) renderHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

// WaitForCallback blocks until the authorization response arrives, the
// timeout elapses, or ctx is cancelled. The server is shut down on every
// exit path.
func (s *Server) WaitForCallback(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-s.done:
			s.mu.Lock()
			res := s.result
			s.mu.Unlock()
			if res.Err != "" {
				return res, models.NewAuthError(models.AuthErrorKind(res.Err), res.ErrDescription, nil)
			}
			return res, nil
		case <-deadline.C:
			s.Close()
			return nil, models.NewAuthError(models.ErrKindTimeout, "no authorization response received", nil)
		case <-ctx.Done():
			s.Close()
			return nil, models.NewAuthError(models.ErrKindTimeout, "authorization wait cancelled", ctx.Err())
		case <-tick.C:
		}
	}
}

// Close shuts the server down, waiting at most shutdownGrace for in-flight
// responses. Safe to call more than once.
func (s *Server) Close() {
	s.closed.Do(func() {
		if s.httpSrv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.httpSrv.Close()
		}
		s.logger.Debug().Msg("OAuth loopback server stopped")
	})
}

// VerifyState compares the callback state against the outgoing one.
func (s *Server) VerifyState(got string) error {
	if got != s.state {
		return models.NewAuthError(models.ErrKindStateMismatch, "callback state does not match request state", nil)
	}
	return nil
}

// buildDeepLink constructs the application URL-scheme link used by the
// response pages.
func buildDeepLink(path string, params url.Values) string {
	link := "ecan://" + path
	if len(params) > 0 {
		link += "?" + params.Encode()
	}
	return link
}
