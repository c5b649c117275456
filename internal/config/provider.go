package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
)

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	// Get project root from viper
	projectRoot := v.GetString("project_root")
	if projectRoot == "" {
		var err error
		projectRoot, err = FindProjectRoot()
		if err != nil {
			return nil, fmt.Errorf("failed to find project root: %w", err)
		}
	}

	// .env files must be loaded before foundry.toml is expanded
	loadDotEnv(projectRoot)

	cfg := &config.RuntimeConfig{
		ProjectRoot:    projectRoot,
		DataDir:        filepath.Join(projectRoot, ".treb"),
		Store:          config.StoreBackend(strings.ToLower(v.GetString("store"))),
		Debug:          v.GetBool("debug"),
		NonInteractive: v.GetBool("non_interactive"),
		JSON:           v.GetBool("json"),
		Timeout:        v.GetDuration("timeout"),
		RPCTimeout:     v.GetDuration("rpc_timeout"),
		Signer:         v.GetString("signer"),
		PrivateKeys:    privateKeys(v),
	}

	switch cfg.Store {
	case config.StoreFile, config.StoreBadger:
	default:
		return nil, fmt.Errorf("invalid store %q (expected file or badger)", cfg.Store)
	}

	foundryConfig, err := loadFoundryConfig(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load foundry config: %w", err)
	}
	cfg.FoundryConfig = foundryConfig

	// Resolve network if specified
	networkName := v.GetString("network")
	rpcURL := v.GetString("rpc_url")
	if networkName != "" || rpcURL != "" {
		resolver := NewNetworkResolver(projectRoot, foundryConfig)
		network, err := resolver.Resolve(networkName, rpcURL, v.GetUint64("chain_id"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve network: %w", err)
		}
		cfg.Network = network
	}

	return cfg, nil
}

// privateKeys collects signer keys from PRIVATE_KEY (comma separated) and
// the private_keys setting
func privateKeys(v *viper.Viper) []string {
	var keys []string
	for _, raw := range []string{os.Getenv("PRIVATE_KEY"), v.GetString("private_keys")} {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// FindProjectRoot walks up from current directory to find foundry.toml
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		foundryToml := filepath.Join(dir, "foundry.toml")
		if _, err := os.Stat(foundryToml); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a Foundry project (foundry.toml not found)")
		}
		dir = parent
	}
}

// SetupViper creates and configures a viper instance
func SetupViper(projectRoot string, cmd *cobra.Command) *viper.Viper {
	v := viper.New()

	// Set up config file
	v.SetConfigName("config.local")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(projectRoot, ".treb"))

	// Set up environment variables
	v.SetEnvPrefix("TREB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Set defaults
	v.SetDefault("store", string(config.StoreFile))
	v.SetDefault("timeout", "5m")
	v.SetDefault("rpc_timeout", "30s")
	v.SetDefault("debug", false)
	v.SetDefault("non_interactive", false)
	v.SetDefault("project_root", projectRoot)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})

	return v
}
