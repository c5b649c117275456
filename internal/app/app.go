package app

import (
	"log/slog"

	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// Shared dependencies
	Signers   usecase.SignerSource
	Selector  usecase.ProxySelector
	Confirmer usecase.Confirmer
	Progress  usecase.ProgressSink

	// Use cases
	ProxyUpgrades *usecase.ProxyUpgrades
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	proxyUpgrades *usecase.ProxyUpgrades,
	signers usecase.SignerSource,
	selector usecase.ProxySelector,
	confirmer usecase.Confirmer,
	progress usecase.ProgressSink,
) (*App, error) {
	return &App{
		Config:        cfg,
		Log:           log,
		Signers:       signers,
		Selector:      selector,
		Confirmer:     confirmer,
		Progress:      progress,
		ProxyUpgrades: proxyUpgrades,
	}, nil
}
