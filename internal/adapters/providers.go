package adapters

import (
	"log/slog"

	"github.com/google/wire"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/artifacts"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/interactive"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/layout"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/progress"
	"github.com/trebuchet-org/treb-proxy/internal/adapters/repository/manifest"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// ProvideKeyring loads the configured signer keys
func ProvideKeyring(cfg *config.RuntimeConfig) (*blockchain.Keyring, error) {
	return blockchain.NewKeyring(cfg.PrivateKeys)
}

// ProvideGateway creates the JSON-RPC gateway; layouts are read from the
// manifest catalog
func ProvideGateway(cfg *config.RuntimeConfig, keys *blockchain.Keyring, store usecase.ManifestStore, log *slog.Logger) (*blockchain.Gateway, error) {
	return blockchain.NewGateway(cfg, keys, store, log)
}

// StoreSet provides the manifest store selected by configuration
var StoreSet = wire.NewSet(
	manifest.NewStore,
)

// ChainSet provides on-chain implementations
var ChainSet = wire.NewSet(
	ProvideKeyring,
	ProvideGateway,
	wire.Bind(new(usecase.ChainGateway), new(*blockchain.Gateway)),
	wire.Bind(new(usecase.SignerSource), new(*blockchain.Gateway)),
)

// LayoutSet provides artifact loading and layout validation
var LayoutSet = wire.NewSet(
	artifacts.NewLoader,
	wire.Bind(new(usecase.ArtifactLoader), new(*artifacts.Loader)),

	layout.NewValidator,
	wire.Bind(new(usecase.LayoutValidator), new(*layout.Validator)),
)

// InteractiveSet provides interactive implementations
var InteractiveSet = wire.NewSet(
	interactive.NewSelectorAdapter,
	wire.Bind(new(usecase.Confirmer), new(*interactive.SelectorAdapter)),
	wire.Bind(new(usecase.ProxySelector), new(*interactive.SelectorAdapter)),

	progress.NewProgressSink,
)

// AllAdapters is a convenience set that includes all adapter sets
var AllAdapters = wire.NewSet(
	StoreSet,
	ChainSet,
	LayoutSet,
	InteractiveSet,
)
