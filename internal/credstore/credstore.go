// Package credstore persists one refresh-token blob per
// (OS-user, application-username) across restarts. Each platform gets an
// ordered list of backend strategies: the OS credential store (direct or
// chunked, depending on per-item length limits) with an on-disk base64 file
// as the final fallback.
package credstore

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/interfaces"
)

var (
	// ErrNotFound reports that no refresh token is stored for the user.
	ErrNotFound = errors.New("refresh token not found")
	// ErrDecode reports a stored record that could not be decoded.
	ErrDecode = errors.New("refresh token decode failed")
)

// serviceBase is the credential-store service name prefix. Dev runs use a
// distinct suffix so a development build can never consume packaged-build
// credentials.
const (
	serviceBase    = "ecan_refresh"
	serviceBaseDev = "ecan_refresh_dev"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeUsername maps an email-like identifier to a storage-safe identifier
// usable as a credential-store account name.
func SafeUsername(username string) string {
	safe := unsafeChars.ReplaceAllString(username, "_")
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe
}

// backend is one storage strategy. tryDelete returns nil when the record was
// removed or was never present.
type backend interface {
	name() string
	tryStore(user, token string) error
	tryLoad(user string) (string, error)
	tryDelete(user string) error
}

// Store walks a platform-specific ordered list of backends.
type Store struct {
	backends []backend
	logger   *common.Logger
}

// Option configures the store.
type Option func(*options)

type options struct {
	frozen   bool
	platform string
	dataDir  string
	ring     SecretStore
	logger   *common.Logger
}

// WithFrozen selects the packaged-build service name.
func WithFrozen(frozen bool) Option {
	return func(o *options) { o.frozen = frozen }
}

// WithPlatform overrides the GOOS used to pick the strategy order.
func WithPlatform(goos string) Option {
	return func(o *options) { o.platform = goos }
}

// WithDataDir overrides the directory used by the file fallback.
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

// WithKeyring injects a secret store, replacing the OS keyring.
func WithKeyring(ring SecretStore) Option {
	return func(o *options) { o.ring = ring }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewStore builds the credential store for the current platform.
func NewStore(opts ...Option) (*Store, error) {
	o := &options{
		platform: runtime.GOOS,
		ring:     systemKeyring{},
		logger:   common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dataDir == "" {
		dir, err := common.AppDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolve app data dir: %w", err)
		}
		o.dataDir = dir
	}

	service := serviceBase
	if !o.frozen {
		service = serviceBaseDev
	}

	direct := &directBackend{service: service, ring: o.ring}
	chunked := &chunkedBackend{service: service, ring: o.ring}
	file := &fileBackend{dir: o.dataDir}

	var backends []backend
	switch o.platform {
	case "windows":
		// The Windows credential manager refuses long values; chunking is
		// unavoidable there.
		backends = []backend{chunked, file}
	case "darwin":
		// The macOS keychain accepts long values; chunking only multiplies
		// ACL prompts.
		backends = []backend{direct, file}
	default:
		// Linux secret-service backends vary, so both variants are tried.
		backends = []backend{direct, chunked, file}
	}

	return &Store{backends: backends, logger: o.logger}, nil
}

// Store writes the refresh token, replacing any previous record. It fails
// only when every backend strategy fails.
func (s *Store) Store(username, refreshToken string) error {
	user := SafeUsername(username)
	var lastErr error
	for _, b := range s.backends {
		if err := b.tryStore(user, refreshToken); err != nil {
			s.logger.Debug().Str("backend", b.name()).Err(err).Msg("Credential store write failed, trying next strategy")
			lastErr = err
			continue
		}
		s.logger.Debug().Str("backend", b.name()).Msg("Refresh token stored")
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no credential store backends configured")
	}
	return fmt.Errorf("all credential store strategies failed: %w", lastErr)
}

// Load reads the refresh token back, walking the same strategy order.
// Absence is reported as ErrNotFound, a corrupt record as ErrDecode.
func (s *Store) Load(username string) (string, error) {
	user := SafeUsername(username)
	sawDecode := false
	for _, b := range s.backends {
		token, err := b.tryLoad(user)
		if err == nil {
			return token, nil
		}
		if errors.Is(err, ErrDecode) {
			s.logger.Warn().Str("backend", b.name()).Msg("Stored refresh token failed to decode")
			sawDecode = true
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug().Str("backend", b.name()).Err(err).Msg("Credential store read failed")
		}
	}
	if sawDecode {
		return "", ErrDecode
	}
	return "", ErrNotFound
}

// Delete removes the record from every backend. It returns nil when at least
// one backend succeeded or nothing was present.
func (s *Store) Delete(username string) error {
	user := SafeUsername(username)
	var errs []string
	ok := false
	for _, b := range s.backends {
		if err := b.tryDelete(user); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", b.name(), err))
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return fmt.Errorf("credential store delete failed: %s", strings.Join(errs, "; "))
}

var _ interfaces.CredentialStore = (*Store)(nil)
