// Package auth implements the auth manager: the orchestrator that owns the
// signed-in session, the persisted refresh token, and the background refresh
// loop.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"

	"github.com/ecan-labs/ecan/internal/authflow"
	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/credstore"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

// DefaultRefreshInterval is how long the refresh loop sleeps between grants.
const DefaultRefreshInterval = 2700 * time.Second

// logoutGrace bounds how long Logout waits for the refresh loop to stop.
const logoutGrace = 5 * time.Second

// LoopbackFactory builds a fresh loopback server per federated login.
type LoopbackFactory func() (*authflow.Server, error)

// Manager orchestrates the identity provider, credential store, loopback
// flow and refresh loop. Tokens belong to the Manager instance; there is no
// process-global session state.
type Manager struct {
	idp     interfaces.IdentityProvider
	store   interfaces.CredentialStore
	broker  interfaces.IdentityBroker
	sidecar *sidecar
	logger  *common.Logger

	openBrowser     interfaces.BrowserOpener
	newLoopback     LoopbackFactory
	waitTimeout     time.Duration
	refreshInterval time.Duration

	mu          sync.Mutex
	signedIn    bool
	currentUser string
	role        string
	tokens      *models.TokenBundle

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// ManagerOption configures the manager
type ManagerOption func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBrowserOpener injects the browser seam (tests)
func WithBrowserOpener(open interfaces.BrowserOpener) ManagerOption {
	return func(m *Manager) {
		m.openBrowser = open
	}
}

// WithLoopbackFactory injects the loopback server constructor
func WithLoopbackFactory(f LoopbackFactory) ManagerOption {
	return func(m *Manager) {
		m.newLoopback = f
	}
}

// WithRefreshInterval overrides the refresh loop sleep (tests)
func WithRefreshInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshInterval = d
	}
}

// WithWaitTimeout overrides the callback wait timeout
func WithWaitTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.waitTimeout = d
	}
}

// NewManager creates an auth manager. dataDir is the per-user app data
// directory holding the uli.json sidecar.
func NewManager(idp interfaces.IdentityProvider, store interfaces.CredentialStore, brk interfaces.IdentityBroker, callbackCfg common.CallbackConfig, dataDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		idp:             idp,
		store:           store,
		broker:          brk,
		sidecar:         newSidecar(dataDir),
		logger:          common.NewSilentLogger(),
		openBrowser:     browser.OpenURL,
		waitTimeout:     callbackCfg.GetTimeout(),
		refreshInterval: DefaultRefreshInterval,
	}
	m.newLoopback = func() (*authflow.Server, error) {
		return authflow.NewServer(callbackCfg, authflow.WithLogger(m.logger))
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Login signs in with username and password. On success the refresh token is
// persisted before the refresh loop starts, so a crash between those steps
// can never strand a loop reading a non-existent record.
func (m *Manager) Login(ctx context.Context, username, password, role string) error {
	attemptID := uuid.New().String()[:8]
	m.logger.Debug().Str("attempt_id", attemptID).Msg("Password login started")

	bundle, err := m.idp.Login(ctx, username, password)
	if err != nil {
		m.logger.Warn().Str("attempt_id", attemptID).Str("kind", string(models.KindOf(err))).Msg("Password login failed")
		return err
	}

	m.completeLogin(username, role, bundle)
	return nil
}

// GoogleLogin runs the federated flow: loopback server, browser, callback,
// state check, code exchange, persistence, refresh loop.
func (m *Manager) GoogleLogin(ctx context.Context, role string) error {
	attemptID := uuid.New().String()[:8]
	m.logger.Debug().Str("attempt_id", attemptID).Msg("Federated login started")

	los, err := m.newLoopback()
	if err != nil {
		return models.NewAuthError(models.ErrKindInternal, "failed to prepare loopback server", err)
	}
	if err := los.Start(); err != nil {
		// The redirect URI is pre-registered with the provider; an occupied
		// port is a configuration error, not something to work around.
		return models.NewAuthError(models.ErrKindConfigMissing, "callback port unavailable", err)
	}
	defer los.Close()

	authURL := m.idp.HostedGoogleURL(los.RedirectURI(), los.PKCE())
	if err := m.openBrowser(authURL); err != nil {
		return models.NewAuthError(models.ErrKindInternal, "failed to open browser", err)
	}

	result, err := los.WaitForCallback(ctx, m.waitTimeout)
	if err != nil {
		return err
	}
	if err := los.VerifyState(result.State); err != nil {
		m.logger.Warn().Str("attempt_id", attemptID).Msg("Rejecting login: callback state does not match")
		return err
	}

	bundle, err := m.idp.ExchangeCode(ctx, result.Code, los.RedirectURI(), los.Verifier())
	if err != nil {
		return err
	}

	principal, err := m.extractPrincipal(ctx, bundle)
	if err != nil {
		return err
	}

	m.completeLogin(principal, role, bundle)
	return nil
}

// extractPrincipal pulls the user identity out of the verified id-token
// claims, preferring email, then the pool username, then the subject, and
// finally the OIDC userInfo endpoint.
func (m *Manager) extractPrincipal(ctx context.Context, bundle *models.TokenBundle) (string, error) {
	claims, err := m.idp.VerifyToken(ctx, bundle.IDToken, models.TokenUseID)
	if err != nil {
		return "", err
	}

	if email, _ := claims["email"].(string); email != "" {
		return email, nil
	}
	if username, _ := claims["cognito:username"].(string); username != "" {
		return username, nil
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}

	info, err := m.idp.UserInfo(ctx, bundle.AccessToken)
	if err != nil {
		return "", err
	}
	return info.Principal(), nil
}

// completeLogin persists the refresh token, updates the sidecar, installs
// the session and starts the refresh loop — in that order.
func (m *Manager) completeLogin(username, role string, bundle *models.TokenBundle) {
	if bundle.RefreshToken != "" {
		if err := m.store.Store(username, bundle.RefreshToken); err != nil {
			m.logger.Warn().Err(err).Msg("Could not persist refresh token; session will not survive restart")
		}
	}
	if err := m.sidecar.SetLogin(username, role); err != nil {
		m.logger.Warn().Err(err).Msg("Could not update session sidecar")
	}

	m.mu.Lock()
	m.signedIn = true
	m.currentUser = username
	m.role = role
	m.tokens = bundle
	m.mu.Unlock()

	m.startRefreshLoop()
	m.logger.Info().Str("user", credstore.SafeUsername(username)).Msg("Signed in")
}

// SignUp passes through to the identity provider.
func (m *Manager) SignUp(ctx context.Context, username, password string) error {
	return m.idp.SignUp(ctx, username, password)
}

// ForgotPassword passes through to the identity provider.
func (m *Manager) ForgotPassword(ctx context.Context, username string) error {
	return m.idp.ForgotPassword(ctx, username)
}

// ConfirmForgotPassword passes through to the identity provider.
func (m *Manager) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	return m.idp.ConfirmForgotPassword(ctx, username, code, newPassword)
}

// Logout stops the refresh loop, clears in-memory tokens, then deletes the
// persisted refresh token. Subcomponent failures are logged, never
// surfaced: logout always leaves the manager signed out.
func (m *Manager) Logout(ctx context.Context) {
	m.stopRefreshLoop()

	m.mu.Lock()
	user := m.currentUser
	m.signedIn = false
	m.currentUser = ""
	m.tokens = nil
	m.mu.Unlock()

	if m.broker != nil {
		m.broker.Clear()
	}
	if user != "" {
		if err := m.store.Delete(user); err != nil {
			m.logger.Warn().Err(err).Msg("Could not delete stored refresh token on logout")
		}
	}
	m.logger.Info().Msg("Signed out")
}

// TryRestoreSession rebuilds a session at startup from the sidecar username
// and the persisted refresh token. A rejected refresh deletes the stored
// record and returns false; the sidecar is left untouched either way.
func (m *Manager) TryRestoreSession(ctx context.Context) bool {
	user := m.sidecar.User()
	if user == "" {
		return false
	}

	refreshToken, err := m.store.Load(user)
	if err != nil {
		// Absence and corruption both mean "no session", but they are
		// different conditions worth telling apart in the log.
		m.logger.Debug().Err(err).Msg("No stored session to restore")
		return false
	}

	bundle, err := m.idp.Refresh(ctx, refreshToken)
	if err != nil {
		m.logger.Info().Str("kind", string(models.KindOf(err))).Msg("Stored session rejected; clearing record")
		if derr := m.store.Delete(user); derr != nil {
			m.logger.Warn().Err(derr).Msg("Could not delete stale refresh token")
		}
		return false
	}

	merged := bundle.Merge(models.TokenBundle{RefreshToken: refreshToken})

	m.mu.Lock()
	m.signedIn = true
	m.currentUser = user
	m.role = m.sidecar.Role()
	m.tokens = &merged
	m.mu.Unlock()

	m.startRefreshLoop()
	m.logger.Info().Str("user", credstore.SafeUsername(user)).Msg("Session restored")
	return true
}

// SignedIn reports whether a session is active.
func (m *Manager) SignedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signedIn
}

// CurrentUser returns the signed-in principal, or "".
func (m *Manager) CurrentUser() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUser
}

// Role returns the machine role tag selected at login.
func (m *Manager) Role() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Tokens returns a copy of the current token bundle.
func (m *Manager) Tokens() (models.TokenBundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return models.TokenBundle{}, false
	}
	return *m.tokens, true
}

// IDToken returns the current id token, or "".
func (m *Manager) IDToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.IDToken
}

// Ensure Manager implements AuthManager
var _ interfaces.AuthManager = (*Manager)(nil)
