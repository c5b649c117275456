package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// PrepareParams contains parameters for preparing an upgrade
type PrepareParams struct {
	Proxy       common.Address
	ArtifactRef string // artifact path or "path/File.sol:Contract"
}

// PrepareResult contains the outcome of a successful prepare
type PrepareResult struct {
	Record  *models.ProxyRecord
	Pending *models.PendingImplementation
	Report  models.ValidationReport
}

// Prepare deploys a new implementation and, if its storage layout is
// compatible with the current one, stores it as the pending implementation.
// The proxy itself is never touched.
func (uc *ProxyUpgrades) Prepare(ctx context.Context, params PrepareParams) (*PrepareResult, error) {
	const op = "prepare"
	unlock := uc.lock(params.Proxy)
	defer unlock()

	record, err := uc.getRecord(ctx, op, params.Proxy)
	if err != nil {
		return nil, err
	}
	current := record.Implementation

	uc.stage(ctx, StageLoading, "Loading artifact %s", params.ArtifactRef)
	artifact, err := uc.artifacts.Load(ctx, params.ArtifactRef)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, "", err)
	}

	uc.stage(ctx, StageValidating, "Resolving layout of %s", current.Hex())
	currentLayout, err := uc.resolveLayout(ctx, current)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, "", err)
	}

	// Reject before deploying so an incompatible artifact costs nothing
	if report := uc.validator.Validate(currentLayout, artifact.Layout); !report.Compatible {
		return nil, uc.fail(op, params.Proxy, "", &domain.IncompatibleLayoutError{From: current, Violations: report.Violations})
	}

	uc.stage(ctx, StageDeploying, "Deploying %s", artifact.Name)
	deployCtx, cancel := uc.withTx(ctx)
	address, err := uc.gateway.DeployImplementation(deployCtx, artifact.Bytecode, nil)
	cancel()
	if err != nil {
		return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("failed to deploy implementation: %w", err))
	}
	uc.log.Info("deployed implementation", "proxy", params.Proxy.Hex(), "implementation", address.Hex(), "artifact", artifact.Path)

	if err := uc.store.PutLayout(ctx, uc.chainID, &models.ImplementationLayout{
		Address:         address,
		Layout:          artifact.Layout,
		RuntimeCodeHash: artifact.RuntimeCodeHash,
		ArtifactPath:    artifact.Path,
		ContractName:    artifact.Name,
		RegisteredAt:    uc.now(),
	}); err != nil {
		return nil, uc.fail(op, params.Proxy, transition(current, address), fmt.Errorf("failed to register layout: %w", err))
	}

	// Validate what is actually on-chain, not only the artifact
	uc.stage(ctx, StageValidating, "Validating %s against %s", address.Hex(), current.Hex())
	newLayout, err := uc.resolveLayout(ctx, address)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, transition(current, address), err)
	}
	report := uc.validator.Validate(currentLayout, newLayout)
	if !report.Compatible {
		uc.log.Warn("deployed implementation rejected", "implementation", address.Hex(), "violations", len(report.Violations))
		return nil, uc.fail(op, params.Proxy, transition(current, address), &domain.IncompatibleLayoutError{From: current, Violations: report.Violations})
	}

	if record.Pending != nil {
		uc.log.Warn("replacing pending implementation", "proxy", params.Proxy.Hex(), "previous", record.Pending.Address.Hex())
		uc.progress.Info(fmt.Sprintf("Warning: replacing pending implementation %s", record.Pending.Address.Hex()))
	}

	pending := &models.PendingImplementation{
		Address:          address,
		SourceLayoutHash: newLayout.Hash(),
		ValidatedAgainst: current,
		ArtifactPath:     artifact.Path,
		PreparedAt:       uc.now(),
	}

	uc.stage(ctx, StageUpdating, "Writing manifest")
	updated, err := uc.store.SetPending(ctx, uc.chainID, params.Proxy, record.Version, pending)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, transition(current, address), err)
	}

	uc.log.Info("prepared upgrade", "proxy", params.Proxy.Hex(), "from", current.Hex(), "to", address.Hex())
	uc.stage(ctx, StageCompleted, "Prepared %s", address.Hex())

	return &PrepareResult{
		Record:  updated,
		Pending: updated.Pending,
		Report:  report,
	}, nil
}

// resolveLayout turns an unresolvable layout into an IncompatibleLayoutError
// so that "unknown" is never treated as "compatible"
func (uc *ProxyUpgrades) resolveLayout(ctx context.Context, implementation common.Address) (*models.StorageLayout, error) {
	readCtx, cancel := uc.withRead(ctx)
	defer cancel()

	layout, err := uc.gateway.ResolveLayout(readCtx, implementation)
	if err == nil && layout == nil {
		err = domain.ErrUnresolvable
	}
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvable) {
			return nil, &domain.IncompatibleLayoutError{
				From: implementation,
				Violations: []models.Violation{{
					Kind:   models.ViolationUnresolvable,
					Detail: err.Error(),
				}},
			}
		}
		return nil, fmt.Errorf("failed to resolve layout of %s: %w", implementation.Hex(), err)
	}
	return layout, nil
}
