//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-proxy/internal/adapters"
	"github.com/trebuchet-org/treb-proxy/internal/config"
	"github.com/trebuchet-org/treb-proxy/internal/logging"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// InitApp creates a fully wired App instance
func InitApp(v *viper.Viper) (*App, func(), error) {
	wire.Build(
		config.Provider,
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.NewProxyUpgrades,

		// App
		NewApp,
	)
	return nil, nil, nil
}
