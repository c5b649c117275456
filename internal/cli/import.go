package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// NewImportCmd creates the import command
func NewImportCmd() *cobra.Command {
	var kind string
	var artifact string

	cmd := &cobra.Command{
		Use:   "import <proxy>",
		Short: "Start tracking a proxy deployed outside treb-proxy",
		Long: `Import reads the EIP-1967 implementation and admin slots of an existing
proxy and records them in the manifest. The on-chain state is trusted as
is; nothing is validated.

Pass --artifact with the artifact of the current implementation to
register its storage layout. Without it the first prepare cannot check
compatibility.

Examples:
  treb-proxy import 0x1234... --network arbitrum
  treb-proxy import 0x1234... --artifact src/Escrow.sol:Escrow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := requireChain(app); err != nil {
				return err
			}

			proxy, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			proxyKind, err := models.ParseProxyKind(kind)
			if err != nil {
				return err
			}

			record, err := app.ProxyUpgrades.Import(cmd.Context(), usecase.ImportParams{
				Proxy:       proxy,
				Kind:        proxyKind,
				ArtifactRef: artifact,
			})
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.WriteStructured(cmd.OutOrStdout(), render.FormatJSON, render.NewProxyView(record))
			}
			if proxyKind != models.TransparentProxy {
				fmt.Fprintln(cmd.OutOrStdout(), render.FormatWarning(fmt.Sprintf("%s proxies are tracked but cannot be upgraded yet", proxyKind)))
			}
			return render.NewProxyRenderer(cmd.OutOrStdout()).RenderImport(record)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.TransparentProxy), "Proxy kind: transparent, uups or beacon")
	cmd.Flags().StringVar(&artifact, "artifact", "", "Artifact of the current implementation (path, File.sol:Contract or name)")

	return cmd
}
