package usecase

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// ManifestStore persists proxy records keyed by (chainID, proxy address).
// Every mutation is durable before it returns.
type ManifestStore interface {
	Get(ctx context.Context, chainID uint64, proxy common.Address) (*models.ProxyRecord, error)
	List(ctx context.Context, chainID uint64) ([]*models.ProxyRecord, error)
	// Create fails with domain.ErrAlreadyExists if the key is present
	Create(ctx context.Context, record *models.ProxyRecord) error
	// AppendEvent appends to history and moves the current implementation.
	// It fails with domain.ErrStaleWrite if expectedVersion is outdated or
	// event.From is not the current implementation at write time.
	AppendEvent(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, event models.UpgradeEvent) (*models.ProxyRecord, error)
	SetPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, pending *models.PendingImplementation) (*models.ProxyRecord, error)
	ClearPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64) (*models.ProxyRecord, error)

	// Layout catalog
	PutLayout(ctx context.Context, chainID uint64, entry *models.ImplementationLayout) error
	GetLayout(ctx context.Context, chainID uint64, implementation common.Address) (*models.ImplementationLayout, error)
}

// ChainGateway is the on-chain capability consumed by the orchestrator.
// All calls may block on network I/O and honor ctx cancellation.
type ChainGateway interface {
	DeployImplementation(ctx context.Context, bytecode []byte, constructorArgs []byte) (common.Address, error)
	ReadImplementationSlot(ctx context.Context, proxy common.Address) (common.Address, error)
	ReadAdminSlot(ctx context.Context, proxy common.Address) (common.Address, error)
	// SendUpgradeTransaction returns a transaction reference; it fails with
	// domain.ErrUnauthorized or domain.ErrReverted
	SendUpgradeTransaction(ctx context.Context, proxy, newImplementation, signer common.Address) (string, error)
	ResolveLayout(ctx context.Context, implementation common.Address) (*models.StorageLayout, error)
}

// LayoutValidator compares two storage layouts
type LayoutValidator interface {
	Validate(a, b *models.StorageLayout) models.ValidationReport
}

// ArtifactLoader loads an implementation source (compiled artifact)
type ArtifactLoader interface {
	Load(ctx context.Context, ref string) (*models.ImplementationArtifact, error)
}

// SignerSource lists the accounts that have keys loaded
type SignerSource interface {
	Accounts() []common.Address
	DefaultSigner() common.Address
}

// ProxySelector picks one record when an operator reference is ambiguous
type ProxySelector interface {
	SelectProxy(ctx context.Context, records []*models.ProxyRecord, label string) (*models.ProxyRecord, error)
}

// Confirmer asks the operator to confirm a transition
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage   ExecutionStage
	Message string
	Spinner bool
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}

// ExecutionStage represents a stage in an upgrade workflow
type ExecutionStage string

const (
	StageReading    ExecutionStage = "Reading"
	StageLoading    ExecutionStage = "Loading"
	StageValidating ExecutionStage = "Validating"
	StageDeploying  ExecutionStage = "Deploying"
	StageUpgrading  ExecutionStage = "Upgrading"
	StageUpdating   ExecutionStage = "Updating"
	StageCompleted  ExecutionStage = "Completed"
)
