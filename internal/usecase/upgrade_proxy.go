package usecase

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// UpgradeParams contains parameters for upgrading a proxy
type UpgradeParams struct {
	Proxy  common.Address
	Signer common.Address
}

// UpgradeResult contains the outcome of a successful upgrade
type UpgradeResult struct {
	Record *models.ProxyRecord
	Event  models.UpgradeEvent
}

// Upgrade switches the proxy to its pending implementation. A failed
// transaction leaves the manifest untouched and keeps the pending entry
// for a retry.
func (uc *ProxyUpgrades) Upgrade(ctx context.Context, params UpgradeParams) (*UpgradeResult, error) {
	const op = "upgrade"
	unlock := uc.lock(params.Proxy)
	defer unlock()

	record, err := uc.getRecord(ctx, op, params.Proxy)
	if err != nil {
		return nil, err
	}
	if record.Kind != models.TransparentProxy {
		return nil, uc.fail(op, params.Proxy, "", fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, record.Kind))
	}
	if record.Pending == nil {
		return nil, uc.fail(op, params.Proxy, "", domain.ErrNoPending)
	}

	pending := record.Pending
	step := transition(record.Implementation, pending.Address)

	if pending.IsStale(record.Implementation) {
		uc.log.Warn("discarding stale pending implementation",
			"proxy", params.Proxy.Hex(),
			"pending", pending.Address.Hex(),
			"validatedAgainst", pending.ValidatedAgainst.Hex(),
			"current", record.Implementation.Hex(),
		)
		uc.progress.Info(fmt.Sprintf("Warning: discarding pending %s, it was validated against %s",
			pending.Address.Hex(), pending.ValidatedAgainst.Hex()))
		if _, err := uc.store.ClearPending(ctx, uc.chainID, params.Proxy, record.Version); err != nil {
			return nil, uc.fail(op, params.Proxy, step, fmt.Errorf("%w (clearing it failed: %v)", domain.ErrStalePending, err))
		}
		return nil, uc.fail(op, params.Proxy, step, fmt.Errorf("%w: validated against %s, current is %s; run prepare again",
			domain.ErrStalePending, pending.ValidatedAgainst.Hex(), record.Implementation.Hex()))
	}

	// The pending entry was validated against the manifest's implementation;
	// refuse to send if the proxy was moved outside this tool since then
	uc.stage(ctx, StageReading, "Reading implementation slot of %s", params.Proxy.Hex())
	onChain, _, err := uc.readSlots(ctx, params.Proxy)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, step, err)
	}
	if onChain != record.Implementation {
		uc.log.Warn("on-chain implementation differs from manifest",
			"proxy", params.Proxy.Hex(),
			"manifest", record.Implementation.Hex(),
			"onChain", onChain.Hex(),
		)
		return nil, uc.fail(op, params.Proxy, step, fmt.Errorf("%w: proxy is at %s on-chain but the manifest records %s; inspect it with info --check",
			domain.ErrStalePending, onChain.Hex(), record.Implementation.Hex()))
	}

	uc.stage(ctx, StageUpgrading, "Upgrading %s to %s", params.Proxy.Hex(), pending.Address.Hex())
	txCtx, cancel := uc.withTx(ctx)
	txRef, err := uc.gateway.SendUpgradeTransaction(txCtx, params.Proxy, pending.Address, params.Signer)
	cancel()
	if err != nil {
		uc.log.Warn("upgrade transaction failed", "proxy", params.Proxy.Hex(), "signer", params.Signer.Hex(), "error", err)
		return nil, uc.fail(op, params.Proxy, step, err)
	}

	event := models.UpgradeEvent{
		From:           record.Implementation,
		To:             pending.Address,
		Validated:      true,
		TransactionRef: txRef,
		Timestamp:      uc.now(),
	}

	uc.stage(ctx, StageUpdating, "Writing manifest")
	updated, err := uc.store.AppendEvent(ctx, uc.chainID, params.Proxy, record.Version, event)
	if err != nil {
		// The chain moved but the manifest did not; the next query reports drift
		uc.log.Error("upgrade sent but manifest not updated", "proxy", params.Proxy.Hex(), "tx", txRef, "error", err)
		return nil, uc.fail(op, params.Proxy, step, fmt.Errorf("transaction %s succeeded but manifest write failed: %w", txRef, err))
	}

	uc.log.Info("upgraded proxy", "proxy", params.Proxy.Hex(), "from", event.From.Hex(), "to", event.To.Hex(), "tx", txRef)
	uc.stage(ctx, StageCompleted, "Upgraded %s", params.Proxy.Hex())

	return &UpgradeResult{Record: updated, Event: event}, nil
}
