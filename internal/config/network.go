package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
)

const chainIDFetchTimeout = 10 * time.Second

// ChainIDFetcher returns the chain ID served by an RPC endpoint
type ChainIDFetcher func(ctx context.Context, rpcURL string) (uint64, error)

// NetworkResolver resolves network names to configurations with caching
type NetworkResolver struct {
	projectRoot   string
	foundryConfig *config.FoundryConfig
	cache         *NetworkCache
	fetch         ChainIDFetcher
	mu            sync.RWMutex
}

// NetworkCache caches chain ID lookups
type NetworkCache struct {
	Networks  map[string]uint64 `json:"networks"` // name -> chainID
	RPCs      map[string]uint64 `json:"rpcs"`     // rpcURL -> chainID
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewNetworkResolver creates a new network resolver
func NewNetworkResolver(projectRoot string, foundryConfig *config.FoundryConfig) *NetworkResolver {
	r := &NetworkResolver{
		projectRoot:   projectRoot,
		foundryConfig: foundryConfig,
		fetch:         fetchChainID,
	}
	r.loadCache()
	return r
}

// Resolve builds the network from a foundry.toml endpoint name or an
// explicit RPC URL. The chain ID comes from chainID if non-zero, then the
// cache, then the endpoint itself.
func (r *NetworkResolver) Resolve(networkName, rpcURL string, chainID uint64) (*config.Network, error) {
	if rpcURL == "" {
		url, exists := r.foundryConfig.RpcEndpoints[networkName]
		if !exists {
			return nil, fmt.Errorf("network '%s' not found in foundry.toml [rpc_endpoints]", networkName)
		}
		rpcURL = url
	}
	if networkName == "" {
		networkName = rpcURL
	}

	if chainID == 0 {
		r.mu.RLock()
		cached, ok := r.cache.RPCs[rpcURL]
		r.mu.RUnlock()

		if ok {
			chainID = cached
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), chainIDFetchTimeout)
			defer cancel()

			fetched, err := r.fetch(ctx, rpcURL)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch chain ID for network %s: %w", networkName, err)
			}
			chainID = fetched
			r.updateCache(networkName, rpcURL, chainID)
		}
	}

	return &config.Network{
		ChainID:     chainID,
		Name:        networkName,
		RPCURL:      rpcURL,
		ExplorerURL: explorerURL(chainID),
	}, nil
}

// fetchChainID asks the endpoint for eth_chainId
func fetchChainID(ctx context.Context, rpcURL string) (uint64, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return chainID.Uint64(), nil
}

func explorerURL(chainID uint64) string {
	switch chainID {
	case 1:
		return "https://etherscan.io"
	case 11155111:
		return "https://sepolia.etherscan.io"
	case 10:
		return "https://optimistic.etherscan.io"
	case 137:
		return "https://polygonscan.com"
	case 8453:
		return "https://basescan.org"
	case 42161:
		return "https://arbiscan.io"
	case 421614:
		return "https://sepolia.arbiscan.io"
	case 56:
		return "https://bscscan.com"
	default:
		return ""
	}
}

func (r *NetworkResolver) cachePath() string {
	return filepath.Join(r.projectRoot, "cache", "chainIds.json")
}

// loadCache loads the chain ID cache from disk
func (r *NetworkResolver) loadCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = &NetworkCache{
		Networks: make(map[string]uint64),
		RPCs:     make(map[string]uint64),
	}

	data, err := os.ReadFile(r.cachePath())
	if err != nil {
		// Cache doesn't exist yet, that's fine
		return
	}

	var loaded NetworkCache
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.RPCs == nil {
		return
	}
	if loaded.Networks == nil {
		loaded.Networks = make(map[string]uint64)
	}
	r.cache = &loaded
}

// updateCache records a lookup and persists it; write errors are ignored
// since the cache only saves round trips
func (r *NetworkResolver) updateCache(networkName, rpcURL string, chainID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Networks[networkName] = chainID
	r.cache.RPCs[rpcURL] = chainID
	r.cache.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(r.cachePath()), 0755); err != nil {
		return
	}
	data, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(r.cachePath(), data, 0644)
}
