package config

import (
	"time"
)

// StoreBackend selects the manifest persistence backend
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreBadger StoreBackend = "badger"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	ProjectRoot string
	DataDir     string

	// Context settings
	Network *Network // nil if not specified
	Store   StoreBackend

	// Execution settings
	Debug          bool
	NonInteractive bool
	JSON           bool // Output in JSON format
	Timeout        time.Duration
	RPCTimeout     time.Duration

	// Signing
	PrivateKeys []string `json:"-"`
	Signer      string   // default signer address for upgrades

	// Resolved configurations
	FoundryConfig *FoundryConfig
}

// Network represents network configuration
type Network struct {
	ChainID     uint64 `json:"chainId"`
	Name        string `json:"name"`
	RPCURL      string `json:"rpcUrl"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// ChainID returns the configured chain ID, or 0 if no network is set
func (c *RuntimeConfig) ChainID() uint64 {
	if c.Network == nil {
		return 0
	}
	return c.Network.ChainID
}
