package cli

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [filter]",
		Aliases: []string{"ls"},
		Short:   "List tracked proxies on the selected network",
		Long: `List prints every proxy tracked in the manifest of the selected chain.
An optional filter is fuzzy matched against labels and addresses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := requireChain(app); err != nil {
				return err
			}

			params := usecase.ListParams{}
			if len(args) == 1 {
				params.Filter = args[0]
			}

			records, err := app.ProxyUpgrades.List(cmd.Context(), params)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				views := lo.Map(records, func(r *models.ProxyRecord, _ int) render.ProxyView {
					return render.NewProxyView(r)
				})
				return render.WriteStructured(cmd.OutOrStdout(), render.FormatJSON, views)
			}
			return render.NewProxyRenderer(cmd.OutOrStdout()).RenderList(app.Config.ChainID(), records)
		},
	}

	return cmd
}
