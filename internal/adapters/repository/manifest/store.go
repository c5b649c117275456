package manifest

import (
	"fmt"

	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// NewStore opens the manifest backend selected in the runtime config.
// The returned cleanup closes the backend and is always non-nil.
func NewStore(cfg *config.RuntimeConfig) (usecase.ManifestStore, func(), error) {
	switch cfg.Store {
	case config.StoreFile, "":
		repo, err := NewFileRepository(cfg.DataDir)
		if err != nil {
			return nil, func() {}, err
		}
		return repo, func() {}, nil
	case config.StoreBadger:
		repo, err := NewBadgerRepository(cfg.DataDir)
		if err != nil {
			return nil, func() {}, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown manifest store %q (expected file or badger)", cfg.Store)
	}
}
