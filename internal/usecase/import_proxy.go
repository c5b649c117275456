package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// ImportParams contains parameters for importing a proxy
type ImportParams struct {
	Proxy common.Address
	Kind  models.ProxyKind
	// Optional artifact of the current implementation; its storage layout is
	// registered as the baseline for the first prepare
	ArtifactRef string
}

// Import starts tracking a proxy deployed outside this tool. On-chain state
// is trusted as ground truth; nothing is validated since there is no
// previous implementation to compare against.
func (uc *ProxyUpgrades) Import(ctx context.Context, params ImportParams) (*models.ProxyRecord, error) {
	const op = "import"
	unlock := uc.lock(params.Proxy)
	defer unlock()

	kind := params.Kind
	if kind == "" {
		kind = models.TransparentProxy
	}

	existing, err := uc.store.Get(ctx, uc.chainID, params.Proxy)
	switch {
	case err == nil:
		return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("%w: implementation %s", domain.ErrAlreadyTracked, existing.Implementation.Hex()))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, uc.fail(op, params.Proxy, "", err)
	}

	uc.stage(ctx, StageReading, "Reading EIP-1967 slots of %s", params.Proxy.Hex())
	implementation, admin, err := uc.readSlots(ctx, params.Proxy)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, "", err)
	}
	if implementation == (common.Address{}) {
		return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("%w: implementation slot is empty", domain.ErrNotAProxy))
	}
	if kind == models.TransparentProxy && admin == (common.Address{}) {
		return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("%w: admin slot is empty", domain.ErrNotAProxy))
	}

	record := &models.ProxyRecord{
		ChainID:        uc.chainID,
		Address:        params.Proxy,
		Kind:           kind,
		Implementation: implementation,
		Admin:          admin,
		History:        []models.UpgradeEvent{},
		ImportedAt:     uc.now(),
	}

	if params.ArtifactRef != "" {
		uc.stage(ctx, StageLoading, "Loading artifact %s", params.ArtifactRef)
		artifact, err := uc.artifacts.Load(ctx, params.ArtifactRef)
		if err != nil {
			return nil, uc.fail(op, params.Proxy, "", err)
		}
		record.Label = artifact.Name
		if err := uc.store.PutLayout(ctx, uc.chainID, &models.ImplementationLayout{
			Address:         implementation,
			Layout:          artifact.Layout,
			RuntimeCodeHash: artifact.RuntimeCodeHash,
			ArtifactPath:    artifact.Path,
			ContractName:    artifact.Name,
			RegisteredAt:    uc.now(),
		}); err != nil {
			return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("failed to register layout: %w", err))
		}
	}

	uc.stage(ctx, StageUpdating, "Writing manifest")
	if err := uc.store.Create(ctx, record); err != nil {
		return nil, uc.fail(op, params.Proxy, "", err)
	}

	uc.log.Info("imported proxy",
		"chain", uc.chainID,
		"proxy", params.Proxy.Hex(),
		"kind", kind,
		"implementation", implementation.Hex(),
		"admin", admin.Hex(),
	)
	uc.stage(ctx, StageCompleted, "Imported %s", params.Proxy.Hex())

	return uc.store.Get(ctx, uc.chainID, params.Proxy)
}

func (uc *ProxyUpgrades) readSlots(ctx context.Context, proxy common.Address) (implementation, admin common.Address, err error) {
	readCtx, cancel := uc.withRead(ctx)
	defer cancel()

	implementation, err = uc.gateway.ReadImplementationSlot(readCtx, proxy)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("failed to read implementation slot: %w", err)
	}
	admin, err = uc.gateway.ReadAdminSlot(readCtx, proxy)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("failed to read admin slot: %w", err)
	}
	return implementation, admin, nil
}
