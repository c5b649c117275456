package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-proxy/internal/app"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// requireChain fails when no network was selected
func requireChain(a *app.App) error {
	if a.Config.ChainID() == 0 {
		return fmt.Errorf("no network selected (pass --network or --rpc-url)")
	}
	return nil
}

// parseAddress validates a hex address argument
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// resolveProxy accepts a proxy address or a label of a tracked proxy.
// Labels that match several proxies fall back to an interactive selection.
func resolveProxy(cmd *cobra.Command, a *app.App, ref string) (common.Address, error) {
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}

	matches, err := a.ProxyUpgrades.List(cmd.Context(), usecase.ListParams{Filter: ref})
	if err != nil {
		return common.Address{}, err
	}
	if len(matches) == 0 {
		return common.Address{}, fmt.Errorf("%w: no proxy matching %q on chain %d", domain.ErrNotTracked, ref, a.Config.ChainID())
	}

	exact := lo.Filter(matches, func(r *models.ProxyRecord, _ int) bool {
		return strings.EqualFold(r.Label, ref)
	})
	if len(exact) == 1 {
		return exact[0].Address, nil
	}

	selected, err := a.Selector.SelectProxy(cmd.Context(), matches, fmt.Sprintf("Select proxy matching %q", ref))
	if err != nil {
		return common.Address{}, err
	}
	return selected.Address, nil
}

// outputFormat picks the --format flag, falling back to --json
func outputFormat(a *app.App, flag string) (render.Format, error) {
	if flag == "" && a.Config.JSON {
		return render.FormatJSON, nil
	}
	return render.ParseFormat(flag)
}

// explainError prints the violations of an incompatible layout as a table
// before the error itself is reported
func explainError(cmd *cobra.Command, a *app.App, err error) error {
	var incompatible *domain.IncompatibleLayoutError
	if !a.Config.JSON && errors.As(err, &incompatible) {
		render.NewProxyRenderer(cmd.ErrOrStderr()).RenderReport(models.ValidationReport{Violations: incompatible.Violations})
	}
	return err
}
