package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

const (
	ManifestDir     = "manifest"
	ManifestVersion = "1.0.0"

	lockRetryInterval  = 50 * time.Millisecond
	defaultLockTimeout = 10 * time.Second
)

// manifestFile is the on-disk structure of <dataDir>/manifest/<chainID>.json
type manifestFile struct {
	ManifestVersion string                                  `json:"manifestVersion"`
	ChainID         uint64                                  `json:"chainId"`
	Proxies         map[string]*models.ProxyRecord          `json:"proxies"`
	Implementations map[string]*models.ImplementationLayout `json:"implementations"`
}

// FileRepository stores one JSON manifest file per chain. Writes go through
// a temp file, fsync and an atomic rename, so a crash leaves either the old
// or the new file, never a partial one.
type FileRepository struct {
	dir         string
	mu          sync.Mutex
	lockTimeout time.Duration
}

// NewFileRepository creates a manifest repository rooted at dataDir
func NewFileRepository(dataDir string) (*FileRepository, error) {
	dir := filepath.Join(dataDir, ManifestDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &FileRepository{dir: dir, lockTimeout: defaultLockTimeout}, nil
}

// Path returns the manifest file of a chain
func (r *FileRepository) Path(chainID uint64) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d.json", chainID))
}

// Get retrieves a proxy record
func (r *FileRepository) Get(ctx context.Context, chainID uint64, proxy common.Address) (*models.ProxyRecord, error) {
	m, err := r.load(chainID)
	if err != nil {
		return nil, err
	}
	rec, ok := m.Proxies[addressKey(proxy)]
	if !ok {
		return nil, notFound(chainID, proxy.Hex())
	}
	return rec.Clone(), nil
}

// List returns all proxy records of a chain
func (r *FileRepository) List(ctx context.Context, chainID uint64) ([]*models.ProxyRecord, error) {
	m, err := r.load(chainID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.Proxies))
	for k := range m.Proxies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]*models.ProxyRecord, 0, len(keys))
	for _, k := range keys {
		result = append(result, m.Proxies[k].Clone())
	}
	return result, nil
}

// Create stores a new record; it never overwrites an existing one
func (r *FileRepository) Create(ctx context.Context, record *models.ProxyRecord) error {
	return r.update(ctx, record.ChainID, func(m *manifestFile) error {
		key := addressKey(record.Address)
		if _, exists := m.Proxies[key]; exists {
			return fmt.Errorf("proxy %s on chain %d: %w", record.Address.Hex(), record.ChainID, domain.ErrAlreadyExists)
		}
		m.Proxies[key] = prepareCreate(record)
		return nil
	})
}

// AppendEvent appends an upgrade event and moves the current implementation
func (r *FileRepository) AppendEvent(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, event models.UpgradeEvent) (*models.ProxyRecord, error) {
	return r.mutate(ctx, chainID, proxy, func(rec *models.ProxyRecord) error {
		return applyEvent(rec, expectedVersion, event)
	})
}

// SetPending stores the pending implementation of a proxy
func (r *FileRepository) SetPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64, pending *models.PendingImplementation) (*models.ProxyRecord, error) {
	return r.mutate(ctx, chainID, proxy, func(rec *models.ProxyRecord) error {
		return applySetPending(rec, expectedVersion, pending)
	})
}

// ClearPending removes the pending implementation of a proxy
func (r *FileRepository) ClearPending(ctx context.Context, chainID uint64, proxy common.Address, expectedVersion uint64) (*models.ProxyRecord, error) {
	return r.mutate(ctx, chainID, proxy, func(rec *models.ProxyRecord) error {
		return applyClearPending(rec, expectedVersion)
	})
}

// PutLayout registers the storage layout of a deployed implementation
func (r *FileRepository) PutLayout(ctx context.Context, chainID uint64, entry *models.ImplementationLayout) error {
	return r.update(ctx, chainID, func(m *manifestFile) error {
		e := *entry
		m.Implementations[addressKey(entry.Address)] = &e
		return nil
	})
}

// GetLayout returns the registered layout of an implementation
func (r *FileRepository) GetLayout(ctx context.Context, chainID uint64, implementation common.Address) (*models.ImplementationLayout, error) {
	m, err := r.load(chainID)
	if err != nil {
		return nil, err
	}
	entry, ok := m.Implementations[addressKey(implementation)]
	if !ok {
		return nil, fmt.Errorf("layout of %s on chain %d: %w", implementation.Hex(), chainID, domain.ErrNotFound)
	}
	e := *entry
	return &e, nil
}

func (r *FileRepository) mutate(ctx context.Context, chainID uint64, proxy common.Address, fn func(*models.ProxyRecord) error) (*models.ProxyRecord, error) {
	var result *models.ProxyRecord
	err := r.update(ctx, chainID, func(m *manifestFile) error {
		stored, ok := m.Proxies[addressKey(proxy)]
		if !ok {
			return notFound(chainID, proxy.Hex())
		}
		rec := stored.Clone()
		if err := fn(rec); err != nil {
			return err
		}
		m.Proxies[addressKey(proxy)] = rec
		result = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// update runs fn on a freshly loaded manifest while holding both the
// in-process mutex and the cross-process lock file, then persists it.
// Nothing is written if fn fails.
func (r *FileRepository) update(ctx context.Context, chainID uint64, fn func(*manifestFile) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.acquireFileLock(ctx, chainID)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := r.load(chainID)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return r.save(chainID, m)
}

// load reads the manifest of a chain; a missing file is an empty manifest
func (r *FileRepository) load(chainID uint64) (*manifestFile, error) {
	m := &manifestFile{
		ManifestVersion: ManifestVersion,
		ChainID:         chainID,
		Proxies:         make(map[string]*models.ProxyRecord),
		Implementations: make(map[string]*models.ImplementationLayout),
	}

	data, err := os.ReadFile(r.Path(chainID))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", r.Path(chainID), err)
	}
	if m.ChainID != chainID {
		return nil, fmt.Errorf("manifest %s belongs to chain %d", r.Path(chainID), m.ChainID)
	}
	if m.Proxies == nil {
		m.Proxies = make(map[string]*models.ProxyRecord)
	}
	if m.Implementations == nil {
		m.Implementations = make(map[string]*models.ImplementationLayout)
	}
	return m, nil
}

// save writes the manifest durably: temp file, fsync, atomic rename
func (r *FileRepository) save(chainID uint64, m *manifestFile) error {
	path := r.Path(chainID)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	if dir, err := os.Open(r.dir); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}

// acquireFileLock creates <manifest>.lock exclusively, retrying until the
// lock timeout or ctx expires
func (r *FileRepository) acquireFileLock(ctx context.Context, chainID uint64) (func(), error) {
	lockPath := r.Path(chainID) + ".lock"
	deadline := time.Now().Add(r.lockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create manifest lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: manifest %s is locked by another process (remove %s if stale)",
				domain.ErrConflict, r.Path(chainID), lockPath)
		}

		select {
		case <-ctx.Done():
			return nil, domain.WrapChainError(ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func addressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}

// Ensure FileRepository implements ManifestStore
var _ usecase.ManifestStore = (*FileRepository)(nil)
