package manifest

import (
	"fmt"

	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// The functions below hold the record-level rules shared by every backend.
// They run inside the backend's atomic write and mutate rec in place.

func checkVersion(rec *models.ProxyRecord, expected uint64) error {
	if rec.Version != expected {
		return fmt.Errorf("%w: record %s is at version %d, expected %d", domain.ErrStaleWrite, rec.Key(), rec.Version, expected)
	}
	return nil
}

func prepareCreate(rec *models.ProxyRecord) *models.ProxyRecord {
	clone := rec.Clone()
	if clone.History == nil {
		clone.History = []models.UpgradeEvent{}
	}
	clone.Version = 1
	return clone
}

func applyEvent(rec *models.ProxyRecord, expected uint64, event models.UpgradeEvent) error {
	if err := checkVersion(rec, expected); err != nil {
		return err
	}
	if event.From != rec.Implementation {
		return fmt.Errorf("%w: event starts at %s but current implementation is %s",
			domain.ErrStaleWrite, event.From.Hex(), rec.Implementation.Hex())
	}
	// Timestamps never go backwards in history
	if last := rec.LastEvent(); last != nil && event.Timestamp.Before(last.Timestamp) {
		event.Timestamp = last.Timestamp
	}

	rec.History = append(rec.History, event)
	rec.Implementation = event.To
	// Only the pending entry this event promotes is consumed; any other
	// pending entry stays and is detected as stale on the next upgrade
	if rec.Pending != nil && rec.Pending.Address == event.To {
		rec.Pending = nil
	}
	rec.Version++
	return nil
}

func applySetPending(rec *models.ProxyRecord, expected uint64, pending *models.PendingImplementation) error {
	if err := checkVersion(rec, expected); err != nil {
		return err
	}
	if pending == nil {
		return fmt.Errorf("pending implementation is nil")
	}
	p := *pending
	rec.Pending = &p
	rec.Version++
	return nil
}

func applyClearPending(rec *models.ProxyRecord, expected uint64) error {
	if err := checkVersion(rec, expected); err != nil {
		return err
	}
	rec.Pending = nil
	rec.Version++
	return nil
}

func notFound(chainID uint64, key string) error {
	return fmt.Errorf("proxy %s on chain %d: %w", key, chainID, domain.ErrNotFound)
}
