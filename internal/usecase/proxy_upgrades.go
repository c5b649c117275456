package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

const (
	defaultReadTimeout = 30 * time.Second
	defaultTxTimeout   = 5 * time.Minute
)

// ProxyUpgrades owns every manifest transition of a tracked proxy:
// Import, Prepare and Upgrade are its only mutation entry points.
type ProxyUpgrades struct {
	chainID   uint64
	store     ManifestStore
	gateway   ChainGateway
	validator LayoutValidator
	artifacts ArtifactLoader
	progress  ProgressSink
	log       *slog.Logger

	readTimeout time.Duration
	txTimeout   time.Duration
	locks       *keyedMutex
	now         func() time.Time
}

// NewProxyUpgrades creates the proxy upgrade orchestrator
func NewProxyUpgrades(
	cfg *config.RuntimeConfig,
	store ManifestStore,
	gateway ChainGateway,
	validator LayoutValidator,
	artifacts ArtifactLoader,
	progress ProgressSink,
	log *slog.Logger,
) *ProxyUpgrades {
	uc := &ProxyUpgrades{
		chainID:     cfg.ChainID(),
		store:       store,
		gateway:     gateway,
		validator:   validator,
		artifacts:   artifacts,
		progress:    progress,
		log:         log,
		readTimeout: cfg.RPCTimeout,
		txTimeout:   cfg.Timeout,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if uc.readTimeout <= 0 {
		uc.readTimeout = defaultReadTimeout
	}
	if uc.txTimeout <= 0 {
		uc.txTimeout = defaultTxTimeout
	}
	if uc.progress == nil {
		uc.progress = NopProgress{}
	}
	if uc.log == nil {
		uc.log = slog.Default()
	}
	return uc
}

// ChainID returns the chain the orchestrator operates on
func (uc *ProxyUpgrades) ChainID() uint64 {
	return uc.chainID
}

// lock serializes operations on a single proxy within this process.
// Cross-process races are caught by the store's version check.
func (uc *ProxyUpgrades) lock(proxy common.Address) func() {
	return uc.locks.Lock(models.ProxyKey(uc.chainID, proxy))
}

// withRead bounds a read-only chain call
func (uc *ProxyUpgrades) withRead(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.readTimeout)
}

// withTx bounds a chain call that waits for a transaction to be mined
func (uc *ProxyUpgrades) withTx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.txTimeout)
}

func (uc *ProxyUpgrades) stage(ctx context.Context, stage ExecutionStage, format string, args ...any) {
	uc.progress.OnProgress(ctx, ProgressEvent{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Spinner: stage != StageCompleted,
	})
}

// fail wraps err with the operation context and stops any running stage
func (uc *ProxyUpgrades) fail(op string, proxy common.Address, transition string, err error) error {
	uc.progress.Error(fmt.Sprintf("%s of %s failed", op, proxy.Hex()))
	return &domain.ProxyError{
		Op:         op,
		ChainID:    uc.chainID,
		Proxy:      proxy,
		Transition: transition,
		Err:        domain.WrapChainError(err),
	}
}

// getRecord loads a record and maps a missing key to ErrNotTracked
func (uc *ProxyUpgrades) getRecord(ctx context.Context, op string, proxy common.Address) (*models.ProxyRecord, error) {
	record, err := uc.store.Get(ctx, uc.chainID, proxy)
	if err != nil {
		return nil, uc.fail(op, proxy, "", err)
	}
	return record, nil
}

func transition(from, to common.Address) string {
	return fmt.Sprintf("%s -> %s", from.Hex(), to.Hex())
}
