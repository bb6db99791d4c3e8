package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Callback.Host != "127.0.0.1" || cfg.Callback.Port != 53682 {
		t.Errorf("callback defaults = %s:%d", cfg.Callback.Host, cfg.Callback.Port)
	}
	if cfg.Auth.GetRefreshEvery() != 45*time.Minute {
		t.Errorf("refresh interval = %v", cfg.Auth.GetRefreshEvery())
	}
	if cfg.Callback.GetTimeout() != 300*time.Second {
		t.Errorf("callback timeout = %v", cfg.Callback.GetTimeout())
	}
	if cfg.IsProduction() || cfg.IsFrozen() {
		t.Error("default config must not read as production")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ecan.toml")
	content := `
environment = "production"

[auth]
region = "us-west-2"
user_pool_id = "us-west-2_Pool"
client_id = "client-1"
hosted_domain = "https://auth.example.com"
identity_pool_id = "us-west-2:guid"
refresh_every = "30m"

[callback]
port = 49152

[cloud]
bucket = "assets"
cdn_domain = "cdn.example.com"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.IsFrozen() {
		t.Error("production config must read as frozen")
	}
	if cfg.Auth.Region != "us-west-2" || cfg.Auth.UserPoolID != "us-west-2_Pool" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Auth.GetRefreshEvery() != 30*time.Minute {
		t.Errorf("refresh interval = %v", cfg.Auth.GetRefreshEvery())
	}
	// File values override defaults; untouched defaults survive the merge.
	if cfg.Callback.Port != 49152 {
		t.Errorf("callback port = %d", cfg.Callback.Port)
	}
	if cfg.Callback.Host != "127.0.0.1" {
		t.Errorf("callback host = %q, default must survive partial section", cfg.Callback.Host)
	}
	if cfg.Cloud.Bucket != "assets" || cfg.Cloud.CDNDomain != "cdn.example.com" {
		t.Errorf("cloud = %+v", cfg.Cloud)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Callback.Port != 53682 {
		t.Errorf("port = %d, want default", cfg.Callback.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECAN_ENV", "production")
	t.Setenv("ECAN_AUTH_REGION", "eu-central-1")
	t.Setenv("ECAN_AUTH_CLIENT_ID", "env-client")
	t.Setenv("ECAN_CALLBACK_PORT", "50000")
	t.Setenv("AVATAR_CLOUD_BUCKET", "env-bucket")
	t.Setenv("AVATAR_CLOUD_USE_SSL", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Auth.Region != "eu-central-1" || cfg.Auth.ClientID != "env-client" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Callback.Port != 50000 {
		t.Errorf("port = %d", cfg.Callback.Port)
	}
	if cfg.Cloud.Bucket != "env-bucket" || cfg.Cloud.UseSSL {
		t.Errorf("cloud = %+v", cfg.Cloud)
	}
}

func TestCloudKeysFallBackToStandardAWSVars(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "std-ak")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "std-sk")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cloud.AccessKey != "std-ak" || cfg.Cloud.SecretKey != "std-sk" {
		t.Errorf("cloud keys = %q/%q", cfg.Cloud.AccessKey, cfg.Cloud.SecretKey)
	}

	// The legacy names win over the standard ones.
	t.Setenv("AVATAR_CLOUD_ACCESS_KEY", "legacy-ak")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cloud.AccessKey != "legacy-ak" {
		t.Errorf("access key = %q, legacy name must win", cfg.Cloud.AccessKey)
	}
}

func TestRedirectURI(t *testing.T) {
	cb := CallbackConfig{Host: "127.0.0.1", Port: 53682, Path: "/"}
	if got := cb.RedirectURI(); got != "http://127.0.0.1:53682/" {
		t.Errorf("RedirectURI = %q", got)
	}
	cb.Path = ""
	if got := cb.RedirectURI(); got != "http://127.0.0.1:53682/" {
		t.Errorf("RedirectURI with empty path = %q", got)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	auth := AuthConfig{RefreshEvery: "soonish"}
	if auth.GetRefreshEvery() != 45*time.Minute {
		t.Errorf("GetRefreshEvery = %v", auth.GetRefreshEvery())
	}
	cb := CallbackConfig{Timeout: "whenever"}
	if cb.GetTimeout() != 300*time.Second {
		t.Errorf("GetTimeout = %v", cb.GetTimeout())
	}
}

func TestAppDataDirOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "override")
	t.Setenv("ECAN_DATA_DIR", dir)

	got, err := AppDataDir()
	if err != nil {
		t.Fatalf("AppDataDir failed: %v", err)
	}
	if got != dir {
		t.Errorf("AppDataDir = %q, want %q", got, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}
