package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
)

// loadDotEnv loads .env then .env.local; existing variables win
func loadDotEnv(projectRoot string) {
	envFiles := []string{
		filepath.Join(projectRoot, ".env"),
		filepath.Join(projectRoot, ".env.local"),
	}

	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				// Log warning but don't fail
				fmt.Fprintf(os.Stderr, "Warning: Failed to load %s: %v\n", envFile, err)
			}
		}
	}
}

// loadFoundryConfig loads and parses foundry.toml
func loadFoundryConfig(projectRoot string) (*config.FoundryConfig, error) {
	foundryPath := filepath.Join(projectRoot, "foundry.toml")

	var cfg config.FoundryConfig
	if _, err := toml.DecodeFile(foundryPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse foundry.toml: %w", err)
	}

	if cfg.RpcEndpoints == nil {
		cfg.RpcEndpoints = make(map[string]string)
	}
	for name, url := range cfg.RpcEndpoints {
		cfg.RpcEndpoints[name] = os.ExpandEnv(url)
	}
	if cfg.Profile == nil {
		cfg.Profile = make(map[string]config.ProfileConfig)
	}

	return &cfg, nil
}

// HasStorageLayoutOutput reports whether the default profile asks solc for
// storage layouts, which every prepared artifact needs
func HasStorageLayoutOutput(cfg *config.FoundryConfig) bool {
	if cfg == nil {
		return false
	}
	profile, ok := cfg.Profile["default"]
	if !ok {
		return false
	}
	return slices.Contains(profile.ExtraOutput, "storageLayout")
}
