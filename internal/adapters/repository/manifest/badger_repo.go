package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

const BadgerDir = "manifest.badger"

// BadgerRepository keeps the manifest in an embedded badger database.
// Each mutation is a single read-modify-write transaction; badger's
// conflict detection surfaces concurrent writers as ErrStaleWrite.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) the database under dataDir
func NewBadgerRepository(dataDir string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(filepath.Join(dataDir, BadgerDir))
	opts.Logger = nil // Disable badger logging
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

// Close closes the BadgerDB connection
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func proxyPrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("proxy/%d/", chainID))
}

func proxyDBKey(chainID uint64, proxy common.Address) []byte {
	return append(proxyPrefix(chainID), addressKey(proxy)...)
}

func layoutDBKey(chainID uint64, implementation common.Address) []byte {
	return []byte(fmt.Sprintf("layout/%d/%s", chainID, addressKey(implementation)))
}

func (r *BadgerRepository) Get(ctx context.Context, chainID uint64, proxy common.Address) (*models.ProxyRecord, error) {
	var rec models.ProxyRecord
	err := r.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, proxyDBKey(chainID, proxy), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(chainID, proxy.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy record: %w", err)
	}
	return &rec, nil
}

func (r *BadgerRepository) List(ctx context.Context, chainID uint64) ([]*models.ProxyRecord, error) {
	records := []*models.ProxyRecord{}
	prefix := proxyPrefix(chainID)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Keys are ordered, so records come back sorted by address
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.ProxyRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list proxy records: %w", err)
	}
	return records, nil
}

func (r *BadgerRepository) Create(ctx context.Context, record *models.ProxyRecord) error {
	key := proxyDBKey(record.ChainID, record.Address)
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("proxy %s on chain %d: %w", record.Address.Hex(), record.ChainID, domain.ErrAlreadyExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeJSON(txn, key, prepareCreate(record))
	})
	return mapTxnError(err)
}

func (r *BadgerRepository) AppendEvent(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, event models.UpgradeEvent) (*models.ProxyRecord, error) {
	return r.mutate(chainID, proxy, func(rec *models.ProxyRecord) error {
		return applyEvent(rec, expectedVersion, event)
	})
}

func (r *BadgerRepository) SetPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, pending *models.PendingImplementation) (*models.ProxyRecord, error) {
	return r.mutate(chainID, proxy, func(rec *models.ProxyRecord) error {
		return applySetPending(rec, expectedVersion, pending)
	})
}

func (r *BadgerRepository) ClearPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64) (*models.ProxyRecord, error) {
	return r.mutate(chainID, proxy, func(rec *models.ProxyRecord) error {
		return applyClearPending(rec, expectedVersion)
	})
}

func (r *BadgerRepository) PutLayout(ctx context.Context, chainID uint64, entry *models.ImplementationLayout) error {
	return mapTxnError(r.db.Update(func(txn *badger.Txn) error {
		return writeJSON(txn, layoutDBKey(chainID, entry.Address), entry)
	}))
}

func (r *BadgerRepository) GetLayout(ctx context.Context, chainID uint64, implementation common.Address) (*models.ImplementationLayout, error) {
	var entry models.ImplementationLayout
	err := r.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, layoutDBKey(chainID, implementation), &entry)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("layout of %s on chain %d: %w", implementation.Hex(), chainID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	return &entry, nil
}

func (r *BadgerRepository) mutate(chainID uint64, proxy common.Address, fn func(*models.ProxyRecord) error) (*models.ProxyRecord, error) {
	var result *models.ProxyRecord
	key := proxyDBKey(chainID, proxy)

	err := r.db.Update(func(txn *badger.Txn) error {
		var rec models.ProxyRecord
		if err := readJSON(txn, key, &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound(chainID, proxy.Hex())
			}
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		result = &rec
		return writeJSON(txn, key, &rec)
	})
	if err != nil {
		return nil, mapTxnError(err)
	}
	return result.Clone(), nil
}

func readJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func writeJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// mapTxnError turns badger's optimistic transaction conflict into the
// store-level stale write error
func mapTxnError(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", domain.ErrStaleWrite, err)
	}
	return err
}

// Ensure BadgerRepository implements ManifestStore
var _ usecase.ManifestStore = (*BadgerRepository)(nil)
