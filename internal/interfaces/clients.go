// Package interfaces defines service contracts for the Ecan identity core
package interfaces

import (
	"context"

	"github.com/ecan-labs/ecan/internal/models"
)

// PKCEParams carries the public half of a PKCE pair into an authorization
// request. The verifier itself never leaves the flow that created it.
type PKCEParams struct {
	Challenge string
	Method    string // always "S256"
	State     string
}

// IdentityProvider is the only contract that speaks to the hosted identity
// service's auth endpoints.
type IdentityProvider interface {
	// Login runs the SRP exchange and returns a full token bundle.
	Login(ctx context.Context, username, password string) (*models.TokenBundle, error)

	// SignUp registers a new user in the provider's pool.
	SignUp(ctx context.Context, username, password string) error

	// ForgotPassword starts a password-reset flow.
	ForgotPassword(ctx context.Context, username string) error

	// ConfirmForgotPassword completes a password-reset flow.
	ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error

	// Refresh trades a refresh token for new access/id tokens. The returned
	// bundle carries no refresh token.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error)

	// VerifyToken validates signature, issuer, audience and token_use against
	// the provider's published key set and returns the token claims.
	VerifyToken(ctx context.Context, token string, expectedUse models.TokenUse) (map[string]any, error)

	// HostedGoogleURL builds the authorization URL for the federated Google
	// flow through the provider's hosted UI.
	HostedGoogleURL(redirectURI string, pkce PKCEParams) string

	// ExchangeCode performs the back-channel authorization-code exchange.
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*models.TokenBundle, error)

	// UserInfo fetches the OIDC userInfo for an access token.
	UserInfo(ctx context.Context, accessToken string) (*models.UserInfo, error)
}

// IdentityBroker trades an id-token for temporary object-storage credentials.
type IdentityBroker interface {
	// Credentials returns cached credentials when they are valid for at least
	// five more minutes, otherwise fetches fresh ones.
	Credentials(ctx context.Context, idToken string) (*models.BrokeredCredentials, error)

	// ForceRefresh bypasses the cache.
	ForceRefresh(ctx context.Context, idToken string) (*models.BrokeredCredentials, error)

	// Clear drops any cached credentials.
	Clear()
}

// BrowserOpener launches the system default browser. Injectable so headless
// tests can intercept the authorization URL instead of opening anything.
type BrowserOpener func(url string) error
