package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// NewInfoCmd creates the info command
func NewInfoCmd() *cobra.Command {
	var check bool
	var format string

	cmd := &cobra.Command{
		Use:     "info <proxy>",
		Aliases: []string{"show"},
		Short:   "Show the manifest record of a proxy",
		Long: `Info prints the current implementation, admin, pending implementation
and upgrade history of a tracked proxy. It never changes the manifest.

With --check the EIP-1967 slots are read from the chain and compared to
the manifest, which reveals upgrades made outside treb-proxy.

Examples:
  treb-proxy info 0x1234...
  treb-proxy info Escrow --check --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := requireChain(app); err != nil {
				return err
			}
			outFormat, err := outputFormat(app, format)
			if err != nil {
				return err
			}

			proxy, err := resolveProxy(cmd, app, args[0])
			if err != nil {
				return err
			}

			result, err := app.ProxyUpgrades.Query(cmd.Context(), usecase.QueryParams{
				Proxy:      proxy,
				CheckDrift: check,
			})
			if err != nil {
				return err
			}

			if outFormat != render.FormatText {
				return render.WriteStructured(cmd.OutOrStdout(), outFormat, render.NewQueryView(result))
			}
			return render.NewProxyRenderer(cmd.OutOrStdout()).RenderQuery(result)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Compare the manifest with the on-chain EIP-1967 slots")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: text, json or yaml")

	return cmd
}
