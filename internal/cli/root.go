package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/app"
	"github.com/trebuchet-org/treb-proxy/internal/config"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// appInitializer builds the app for a command; tests replace it
var appInitializer = func(cmd *cobra.Command) (*app.App, func(), error) {
	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		return nil, nil, err
	}
	v := config.SetupViper(projectRoot, cmd)
	return app.InitApp(v)
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var cleanup func()

	rootCmd := &cobra.Command{
		Use:   "treb-proxy",
		Short: "Upgrade coordinator for EIP-1967 transparent proxies",
		Long: `treb-proxy tracks transparent proxies deployed outside this tool and
drives their upgrades: prepare deploys a new implementation and checks
its storage layout against the current one, upgrade points the proxy at
the prepared implementation and records the transition.

State lives in a per-chain manifest under .treb/ in the Foundry project.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			appInstance, appCleanup, err := appInitializer(cmd)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			cleanup = appCleanup

			if appInstance.Config.JSON || os.Getenv("NO_COLOR") != "" {
				color.NoColor = true
			}

			// Store app in context
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cleanup != nil {
				cleanup()
			}
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("network", "n", "", "Network name from foundry.toml [rpc_endpoints]")
	flags.String("rpc-url", "", "RPC endpoint (overrides --network)")
	flags.Uint64("chain-id", 0, "Chain ID (skips the eth_chainId lookup)")
	flags.String("store", "", "Manifest backend: file or badger")
	flags.Duration("timeout", 0, "Deadline for transactions to be mined (default 5m)")
	flags.Duration("rpc-timeout", 0, "Deadline for individual RPC reads (default 30s)")
	flags.Bool("debug", false, "Enable debug output")
	flags.Bool("non-interactive", false, "Disable interactive prompts")
	flags.Bool("json", false, "Output in JSON format")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "main",
		Title: "Upgrade Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "query",
		Title: "Query Commands",
	})

	for _, cmd := range []*cobra.Command{NewImportCmd(), NewPrepareCmd(), NewUpgradeCmd()} {
		cmd.GroupID = "main"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{NewInfoCmd(), NewListCmd()} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	app, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return app, nil
}
