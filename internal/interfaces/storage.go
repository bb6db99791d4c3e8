package interfaces

import (
	"context"
	"time"
)

// CredentialStore persists exactly one opaque refresh-token blob per
// (OS-user, application-username). Implementations never panic; every
// failure is signalled through the return values so the auth manager can
// cascade strategies deterministically.
type CredentialStore interface {
	// Store writes the refresh token, replacing any previous record.
	// It fails only when every backend strategy fails.
	Store(username, refreshToken string) error

	// Load reads the refresh token back. Absence is reported as
	// credstore.ErrNotFound, a corrupt record as credstore.ErrDecode.
	Load(username string) (string, error)

	// Delete removes the record from all backends. It returns nil when at
	// least one backend succeeded or nothing was present.
	Delete(username string) error
}

// ObjectStorage performs bucketed blob I/O using brokered credentials.
type ObjectStorage interface {
	Upload(ctx context.Context, localPath, key, contentType string, metadata map[string]string) (string, error)
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	// Exists reports whether the object is present; any error is treated as
	// absent, matching how head-object 404s surface.
	Exists(ctx context.Context, key string) bool
	URL(ctx context.Context, key string, expiresIn time.Duration, useCDN bool) (string, error)
}
