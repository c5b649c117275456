package usecase

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sahilm/fuzzy"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// QueryParams contains parameters for querying a proxy
type QueryParams struct {
	Proxy common.Address
	// CheckDrift re-reads the EIP-1967 slots and compares them to the manifest
	CheckDrift bool
}

// DriftField describes one manifest value that disagrees with the chain
type DriftField struct {
	Field    string         `json:"field" yaml:"field"`
	Manifest common.Address `json:"manifest" yaml:"manifest"`
	OnChain  common.Address `json:"onChain" yaml:"onChain"`
}

// QueryResult contains the manifest record and, optionally, the on-chain view
type QueryResult struct {
	Record                *models.ProxyRecord `json:"record"`
	Checked               bool                `json:"checked"`
	OnChainImplementation common.Address      `json:"onChainImplementation,omitempty"`
	OnChainAdmin          common.Address      `json:"onChainAdmin,omitempty"`
	Drift                 []DriftField        `json:"drift,omitempty"`
}

// HasDrift reports whether the on-chain state disagrees with the manifest
func (r *QueryResult) HasDrift() bool {
	return len(r.Drift) > 0
}

// Query returns the current record of a proxy. It never mutates the manifest.
func (uc *ProxyUpgrades) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	const op = "query"

	record, err := uc.getRecord(ctx, op, params.Proxy)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Record: record}
	if !params.CheckDrift {
		return result, nil
	}

	uc.stage(ctx, StageReading, "Reading EIP-1967 slots of %s", params.Proxy.Hex())
	implementation, admin, err := uc.readSlots(ctx, params.Proxy)
	if err != nil {
		return nil, uc.fail(op, params.Proxy, "", err)
	}
	uc.stage(ctx, StageCompleted, "Read on-chain state")

	result.Checked = true
	result.OnChainImplementation = implementation
	result.OnChainAdmin = admin
	if implementation != record.Implementation {
		result.Drift = append(result.Drift, DriftField{Field: "implementation", Manifest: record.Implementation, OnChain: implementation})
	}
	if admin != record.Admin {
		result.Drift = append(result.Drift, DriftField{Field: "admin", Manifest: record.Admin, OnChain: admin})
	}
	if result.HasDrift() {
		uc.log.Warn("manifest drift detected", "proxy", params.Proxy.Hex(), "fields", len(result.Drift))
	}

	return result, nil
}

// ListParams contains parameters for listing tracked proxies
type ListParams struct {
	// Filter is fuzzy matched against label and address
	Filter string
}

// List returns the proxies tracked on the configured chain
func (uc *ProxyUpgrades) List(ctx context.Context, params ListParams) ([]*models.ProxyRecord, error) {
	records, err := uc.store.List(ctx, uc.chainID)
	if err != nil {
		return nil, err
	}

	if params.Filter == "" {
		sort.Slice(records, func(i, j int) bool {
			return records[i].ImportedAt.Before(records[j].ImportedAt)
		})
		return records, nil
	}

	candidates := make([]string, len(records))
	for i, r := range records {
		candidates[i] = r.Label + " " + r.Address.Hex()
	}
	matches := fuzzy.Find(params.Filter, candidates)
	filtered := make([]*models.ProxyRecord, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, records[m.Index])
	}
	return filtered, nil
}
