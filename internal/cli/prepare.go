package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

type prepareOutput struct {
	Proxy   render.ProxyView        `json:"proxy"`
	Report  models.ValidationReport `json:"report"`
	Pending string                  `json:"pending"`
}

// NewPrepareCmd creates the prepare command
func NewPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare <proxy> <artifact>",
		Short: "Deploy and validate a new implementation",
		Long: `Prepare deploys the implementation from a compiled Foundry artifact and
checks its storage layout against the proxy's current implementation.
A compatible implementation is recorded as pending; the proxy itself is
not touched until upgrade.

The proxy can be given by address or by label. The artifact can be a
path to the JSON artifact, "src/File.sol:Contract" or a contract name.

Examples:
  treb-proxy prepare 0x1234... src/Escrow.sol:EscrowV2
  treb-proxy prepare Escrow EscrowV2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := requireChain(app); err != nil {
				return err
			}

			proxy, err := resolveProxy(cmd, app, args[0])
			if err != nil {
				return err
			}

			result, err := app.ProxyUpgrades.Prepare(cmd.Context(), usecase.PrepareParams{
				Proxy:       proxy,
				ArtifactRef: args[1],
			})
			if err != nil {
				return explainError(cmd, app, err)
			}

			if app.Config.JSON {
				return render.WriteStructured(cmd.OutOrStdout(), render.FormatJSON, prepareOutput{
					Proxy:   render.NewProxyView(result.Record),
					Report:  result.Report,
					Pending: result.Pending.Address.Hex(),
				})
			}
			return render.NewProxyRenderer(cmd.OutOrStdout()).RenderPrepare(result)
		},
	}

	return cmd
}
