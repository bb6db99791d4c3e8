// Package app wires the identity core together: config, logger, credential
// store, provider and brokering clients, auth manager and cloud storage.
// It is the shared core used by cmd/ecan-agent and the GUI shell.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ecan-labs/ecan/internal/clients/broker"
	"github.com/ecan-labs/ecan/internal/clients/idp"
	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/credstore"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
	"github.com/ecan-labs/ecan/internal/services/auth"
	"github.com/ecan-labs/ecan/internal/storage/cloudstore"
)

// App holds all initialized services and clients.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	CredStore  interfaces.CredentialStore
	IDP        interfaces.IdentityProvider
	Broker     interfaces.IdentityBroker
	Auth       *auth.Manager
	CloudStore interfaces.ObjectStorage
	DataDir    string
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes the identity core. configPath may be empty, in which
// case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	// Load configuration - check provided path, ECAN_CONFIG, then binary dir
	if configPath == "" {
		configPath = os.Getenv("ECAN_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "ecan.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/ecan.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	dataDir, err := common.AppDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app data dir: %w", err)
	}

	store, err := credstore.NewStore(
		credstore.WithFrozen(config.IsFrozen()),
		credstore.WithDataDir(dataDir),
		credstore.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	idpClient := idp.NewClient(config.Auth, idp.WithLogger(logger))

	brokerClient := broker.NewClient(
		config.Auth.Region,
		config.Auth.IdentityPoolID,
		config.Auth.ProviderKey(),
		broker.WithLogger(logger),
		broker.WithTokenVerifier(func(ctx context.Context, idToken string) error {
			_, err := idpClient.VerifyToken(ctx, idToken, models.TokenUseID)
			return err
		}),
	)

	manager := auth.NewManager(idpClient, store, brokerClient, config.Callback, dataDir,
		auth.WithLogger(logger),
		auth.WithRefreshInterval(config.Auth.GetRefreshEvery()),
	)

	cloud := cloudstore.NewStore(config.Cloud, brokerClient, manager.IDToken,
		cloudstore.WithLogger(logger),
	)

	return &App{
		Config:     config,
		Logger:     logger,
		CredStore:  store,
		IDP:        idpClient,
		Broker:     brokerClient,
		Auth:       manager,
		CloudStore: cloud,
		DataDir:    dataDir,
	}, nil
}

// RestoreSession attempts a silent sign-in from the persisted refresh token.
// The GUI must not expose authenticated actions until this returns.
func (a *App) RestoreSession(ctx context.Context) bool {
	return a.Auth.TryRestoreSession(ctx)
}
