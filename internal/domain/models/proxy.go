package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProxyKind represents the upgrade pattern of a proxy
type ProxyKind string

const (
	TransparentProxy ProxyKind = "transparent"
	UUPSProxy        ProxyKind = "uups"
	BeaconProxy      ProxyKind = "beacon"
)

// ParseProxyKind converts user input into a ProxyKind
func ParseProxyKind(s string) (ProxyKind, error) {
	switch ProxyKind(strings.ToLower(strings.TrimSpace(s))) {
	case TransparentProxy, "":
		return TransparentProxy, nil
	case UUPSProxy:
		return UUPSProxy, nil
	case BeaconProxy:
		return BeaconProxy, nil
	default:
		return "", fmt.Errorf("unknown proxy kind %q (expected transparent, uups or beacon)", s)
	}
}

// ProxyRecord is the manifest entry for one tracked proxy
type ProxyRecord struct {
	// Identity, scoped to a single chain
	ChainID uint64         `json:"chainId"`
	Address common.Address `json:"address"`
	Kind    ProxyKind      `json:"kind"`
	Label   string         `json:"label,omitempty"` // e.g. "EscrowUpgradeable"

	Implementation common.Address `json:"implementation"`
	Admin          common.Address `json:"admin"`

	// Append-only, oldest first
	History []UpgradeEvent         `json:"history"`
	Pending *PendingImplementation `json:"pending,omitempty"`

	// Version is bumped on every write and used for optimistic concurrency
	Version    uint64    `json:"version"`
	ImportedAt time.Time `json:"importedAt"`
}

// UpgradeEvent records one completed implementation switch
type UpgradeEvent struct {
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	Validated      bool           `json:"validated"`
	TransactionRef string         `json:"transactionRef,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// PendingImplementation is a deployed but not yet activated implementation
type PendingImplementation struct {
	Address          common.Address `json:"address"`
	SourceLayoutHash common.Hash    `json:"sourceLayoutHash"`
	ValidatedAgainst common.Address `json:"validatedAgainst"`
	ArtifactPath     string         `json:"artifactPath,omitempty"`
	PreparedAt       time.Time      `json:"preparedAt"`
}

// IsStale reports whether the pending entry was validated against an
// implementation other than the record's current one.
func (p *PendingImplementation) IsStale(current common.Address) bool {
	return p.ValidatedAgainst != current
}

// Key returns the manifest key of the record
func (r *ProxyRecord) Key() string {
	return ProxyKey(r.ChainID, r.Address)
}

// DisplayName returns the label if set, otherwise the proxy address
func (r *ProxyRecord) DisplayName() string {
	if r.Label != "" {
		return fmt.Sprintf("%s (%s)", r.Label, r.Address.Hex())
	}
	return r.Address.Hex()
}

// LastEvent returns the most recent upgrade event, or nil if none
func (r *ProxyRecord) LastEvent() *UpgradeEvent {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// Clone returns a deep copy so callers cannot mutate stored history
func (r *ProxyRecord) Clone() *ProxyRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.History = make([]UpgradeEvent, len(r.History))
	copy(clone.History, r.History)
	if r.Pending != nil {
		pending := *r.Pending
		clone.Pending = &pending
	}
	return &clone
}

// ProxyKey builds the "<chainID>/<address>" key used by the manifest stores
func ProxyKey(chainID uint64, address common.Address) string {
	return fmt.Sprintf("%d/%s", chainID, strings.ToLower(address.Hex()))
}

// ImplementationLayout is a layout catalog entry for a deployed implementation
type ImplementationLayout struct {
	Address         common.Address `json:"address"`
	Layout          *StorageLayout `json:"layout"`
	RuntimeCodeHash common.Hash    `json:"runtimeCodeHash,omitempty"` // zero when the code has immutables
	ArtifactPath    string         `json:"artifactPath,omitempty"`
	ContractName    string         `json:"contractName,omitempty"`
	RegisteredAt    time.Time      `json:"registeredAt"`
}

// ImplementationArtifact is a compiled implementation ready to deploy
type ImplementationArtifact struct {
	Name            string
	Path            string
	Bytecode        []byte
	RuntimeCodeHash common.Hash // zero when the runtime code has immutables
	Layout          *StorageLayout
}
