package interfaces

import (
	"context"

	"github.com/ecan-labs/ecan/internal/models"
)

// AuthManager owns the signed-in session and orchestrates the identity
// provider, credential store, loopback flow and refresh loop.
type AuthManager interface {
	// Login signs in with username/password and persists the refresh token
	// before the refresh loop starts.
	Login(ctx context.Context, username, password, role string) error

	// GoogleLogin runs the federated flow: loopback server, browser,
	// code exchange, persistence, refresh loop.
	GoogleLogin(ctx context.Context, role string) error

	SignUp(ctx context.Context, username, password string) error
	ForgotPassword(ctx context.Context, username string) error
	ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error

	// Logout stops the refresh loop, clears in-memory tokens and deletes the
	// stored refresh token. It always leaves the manager signed out.
	Logout(ctx context.Context)

	// TryRestoreSession rebuilds a session from the persisted refresh token.
	// A rejected refresh deletes the stored record and returns false.
	TryRestoreSession(ctx context.Context) bool

	SignedIn() bool
	CurrentUser() string
	Tokens() (models.TokenBundle, bool)
}
