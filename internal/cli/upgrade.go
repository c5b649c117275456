package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

type upgradeOutput struct {
	Proxy          render.ProxyView `json:"proxy"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	TransactionRef string           `json:"transactionRef"`
}

// NewUpgradeCmd creates the upgrade command
func NewUpgradeCmd() *cobra.Command {
	var signer string
	var artifact string
	var yes bool

	cmd := &cobra.Command{
		Use:   "upgrade <proxy>",
		Short: "Point a proxy at its pending implementation",
		Long: `Upgrade sends the upgrade transaction for the pending implementation
prepared earlier and records the transition in the manifest. The signer
must be the proxy admin, or the owner of the ProxyAdmin contract.

With --prepare the implementation is prepared first, then upgraded in
the same run.

Examples:
  treb-proxy upgrade 0x1234...
  treb-proxy upgrade Escrow --prepare src/Escrow.sol:EscrowV2 --yes`,
		Args: cobra.ExactArgs(1),
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

			from := app.Signers.DefaultSigner()
			if signer != "" {
				if from, err = parseAddress(signer); err != nil {
					return err
				}
			}
			if from == (common.Address{}) {
				return fmt.Errorf("%w: no signer configured (set PRIVATE_KEY or --signer)", domain.ErrUnauthorized)
			}

			renderer := render.NewProxyRenderer(cmd.OutOrStdout())

			if artifact != "" {
				prepared, err := app.ProxyUpgrades.Prepare(cmd.Context(), usecase.PrepareParams{
					Proxy:       proxy,
					ArtifactRef: artifact,
				})
				if err != nil {
					return explainError(cmd, app, err)
				}
				if !app.Config.JSON {
					if err := renderer.RenderPrepare(prepared); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}

			if !yes && !app.Config.JSON {
				current, err := app.ProxyUpgrades.Query(cmd.Context(), usecase.QueryParams{Proxy: proxy})
				if err != nil {
					return err
				}
				renderer.RenderTransition(current.Record, from)

				confirmed, err := app.Confirmer.Confirm(cmd.Context(), "Send upgrade transaction")
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Upgrade cancelled")
					return nil
				}
			}

			result, err := app.ProxyUpgrades.Upgrade(cmd.Context(), usecase.UpgradeParams{
				Proxy:  proxy,
				Signer: from,
			})
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.WriteStructured(cmd.OutOrStdout(), render.FormatJSON, upgradeOutput{
					Proxy:          render.NewProxyView(result.Record),
					From:           result.Event.From.Hex(),
					To:             result.Event.To.Hex(),
					TransactionRef: result.Event.TransactionRef,
				})
			}
			return renderer.RenderUpgrade(result)
		},
	}

	cmd.Flags().StringVar(&signer, "signer", "", "Signer address (defaults to the configured signer or first key)")
	cmd.Flags().StringVar(&artifact, "prepare", "", "Prepare this artifact before upgrading")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
