// Package common provides shared utilities for Ecan
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the Ecan identity core
type Config struct {
	Environment string         `toml:"environment"`
	Auth        AuthConfig     `toml:"auth"`
	Callback    CallbackConfig `toml:"callback"`
	Cloud       CloudConfig    `toml:"cloud"`
	Logging     LoggingConfig  `toml:"logging"`
}

// AuthConfig holds identity provider and brokering configuration.
type AuthConfig struct {
	Region         string        `toml:"region"`
	UserPoolID     string        `toml:"user_pool_id"`
	ClientID       string        `toml:"client_id"`
	ClientSecret   string        `toml:"client_secret"`
	HostedDomain   string        `toml:"hosted_domain"`    // e.g. https://auth.ecan.ai
	IdentityPoolID string        `toml:"identity_pool_id"` // brokering pool
	Google         OAuthProvider `toml:"google"`
	RefreshEvery   string        `toml:"refresh_every"` // duration string, default "45m"
}

// OAuthProvider holds client credentials for the direct-Google OAuth path.
// When ClientID is empty the hosted-UI variant is used instead.
type OAuthProvider struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// GetRefreshEvery parses and returns the refresh loop interval.
func (c *AuthConfig) GetRefreshEvery() time.Duration {
	d, err := time.ParseDuration(c.RefreshEvery)
	if err != nil {
		return 45 * time.Minute
	}
	return d
}

// Issuer returns the token issuer URL for the configured user pool.
func (c *AuthConfig) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// ProviderKey returns the login-provider map key expected by the brokering
// service: the issuer without the scheme.
func (c *AuthConfig) ProviderKey() string {
	return fmt.Sprintf("cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// CallbackConfig holds the OAuth loopback receiver configuration. The
// redirect URI is pre-registered with the identity provider, so host, port
// and path are fixed values rather than ephemeral choices.
type CallbackConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
	Timeout string `toml:"timeout"` // duration string, default "300s"
}

// RedirectURI returns the loopback redirect URI registered with the provider.
func (c *CallbackConfig) RedirectURI() string {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("http://%s:%d%s", c.Host, c.Port, path)
}

// GetTimeout parses and returns the callback wait timeout.
func (c *CallbackConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// CloudConfig holds object-storage configuration.
type CloudConfig struct {
	Bucket     string `toml:"bucket"`
	Region     string `toml:"region"`
	Endpoint   string `toml:"endpoint"`
	CDNDomain  string `toml:"cdn_domain"`
	UseSSL     bool   `toml:"use_ssl"`
	PathPrefix string `toml:"path_prefix"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Auth: AuthConfig{
			Region:       "ap-southeast-2",
			RefreshEvery: "45m",
		},
		Callback: CallbackConfig{
			Host:    "127.0.0.1",
			Port:    53682,
			Path:    "/",
			Timeout: "300s",
		},
		Cloud: CloudConfig{
			Region: "ap-southeast-2",
			UseSSL: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ECAN_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("ECAN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Auth overrides
	if v := os.Getenv("ECAN_AUTH_REGION"); v != "" {
		config.Auth.Region = v
	}
	if v := os.Getenv("ECAN_AUTH_USER_POOL_ID"); v != "" {
		config.Auth.UserPoolID = v
	}
	if v := os.Getenv("ECAN_AUTH_CLIENT_ID"); v != "" {
		config.Auth.ClientID = v
	}
	if v := os.Getenv("ECAN_AUTH_CLIENT_SECRET"); v != "" {
		config.Auth.ClientSecret = v
	}
	if v := os.Getenv("ECAN_AUTH_HOSTED_DOMAIN"); v != "" {
		config.Auth.HostedDomain = v
	}
	if v := os.Getenv("ECAN_AUTH_IDENTITY_POOL_ID"); v != "" {
		config.Auth.IdentityPoolID = v
	}
	if v := os.Getenv("ECAN_AUTH_GOOGLE_CLIENT_ID"); v != "" {
		config.Auth.Google.ClientID = v
	}
	if v := os.Getenv("ECAN_AUTH_GOOGLE_CLIENT_SECRET"); v != "" {
		config.Auth.Google.ClientSecret = v
	}

	// Callback overrides
	if v := os.Getenv("ECAN_CALLBACK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Callback.Port = p
		}
	}

	// Cloud overrides follow the legacy AVATAR_CLOUD_* names, with the
	// standard AWS variables as a fallback for the key pair.
	if v := os.Getenv("AVATAR_CLOUD_BUCKET"); v != "" {
		config.Cloud.Bucket = v
	}
	if v := os.Getenv("AVATAR_CLOUD_REGION"); v != "" {
		config.Cloud.Region = v
	}
	if v := os.Getenv("AVATAR_CLOUD_ENDPOINT"); v != "" {
		config.Cloud.Endpoint = v
	}
	if v := os.Getenv("AVATAR_CLOUD_CDN_DOMAIN"); v != "" {
		config.Cloud.CDNDomain = v
	}
	if v := os.Getenv("AVATAR_CLOUD_USE_SSL"); v != "" {
		config.Cloud.UseSSL = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AVATAR_CLOUD_PATH_PREFIX"); v != "" {
		config.Cloud.PathPrefix = v
	}
	if v := os.Getenv("AVATAR_CLOUD_ACCESS_KEY"); v != "" {
		config.Cloud.AccessKey = v
	} else if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Cloud.AccessKey = v
	}
	if v := os.Getenv("AVATAR_CLOUD_SECRET_KEY"); v != "" {
		config.Cloud.SecretKey = v
	} else if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Cloud.SecretKey = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// IsFrozen reports whether this is a packaged build rather than a dev run.
// Packaged builds use the production credential-store service name so a dev
// run can never consume production credentials.
func (c *Config) IsFrozen() bool {
	return c.IsProduction()
}
