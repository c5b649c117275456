package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// foundryArtifact is the subset of a Foundry artifact needed to deploy an
// implementation and validate its storage
type foundryArtifact struct {
	Bytecode struct {
		Object         string                     `json:"object"`
		LinkReferences map[string]json.RawMessage `json:"linkReferences"`
	} `json:"bytecode"`
	DeployedBytecode struct {
		Object              string                     `json:"object"`
		ImmutableReferences map[string]json.RawMessage `json:"immutableReferences"`
	} `json:"deployedBytecode"`
	StorageLayout *models.StorageLayout `json:"storageLayout"`
	Metadata      struct {
		Settings struct {
			CompilationTarget map[string]string `json:"compilationTarget"`
		} `json:"settings"`
	} `json:"metadata"`
}

// Loader resolves implementation references to Foundry artifacts.
// A reference is either a path to an artifact JSON file, a
// "src/File.sol:Contract" identifier or a bare contract name.
type Loader struct {
	projectRoot string
	outDir      string
	log         *slog.Logger

	// build runs `forge build` once when an artifact is missing
	build    bool
	buildMu  sync.Mutex
	hasBuilt bool
}

// NewLoader creates an artifact loader for the configured project
func NewLoader(cfg *config.RuntimeConfig, log *slog.Logger) *Loader {
	return &Loader{
		projectRoot: cfg.ProjectRoot,
		outDir:      cfg.FoundryConfig.OutDir(),
		log:         log,
		build:       true,
	}
}

// Load reads and checks the artifact behind ref
func (l *Loader) Load(ctx context.Context, ref string) (*models.ImplementationArtifact, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("implementation reference is empty")
	}

	path, err := l.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	l.log.Debug("loading artifact", "ref", ref, "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var artifact foundryArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}

	return l.convert(ref, path, &artifact)
}

func (l *Loader) convert(ref, path string, artifact *foundryArtifact) (*models.ImplementationArtifact, error) {
	object := artifact.Bytecode.Object
	if object == "" || object == "0x" {
		return nil, fmt.Errorf("artifact %s has no creation bytecode (abstract contract or interface?)", path)
	}
	if len(artifact.Bytecode.LinkReferences) > 0 || strings.Contains(object, "__$") {
		return nil, fmt.Errorf("artifact %s needs library linking, which is not supported", path)
	}
	if artifact.StorageLayout == nil {
		return nil, fmt.Errorf("artifact %s has no storageLayout; add extra_output = [\"storageLayout\"] to foundry.toml and rebuild", path)
	}

	result := &models.ImplementationArtifact{
		Name:     contractName(ref, path, artifact),
		Path:     l.relative(path),
		Bytecode: common.FromHex(object),
		Layout:   artifact.StorageLayout,
	}
	if result.Layout.Types == nil {
		result.Layout.Types = map[string]models.StorageType{}
	}

	// Immutables are patched into the runtime code at deploy time, so the
	// artifact cannot predict the on-chain code hash
	if deployed := artifact.DeployedBytecode.Object; len(artifact.DeployedBytecode.ImmutableReferences) == 0 && deployed != "" && deployed != "0x" {
		result.RuntimeCodeHash = crypto.Keccak256Hash(common.FromHex(deployed))
	}
	return result, nil
}

// resolve maps a reference to an artifact file path
func (l *Loader) resolve(ctx context.Context, ref string) (string, error) {
	if strings.HasSuffix(ref, ".json") {
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.projectRoot, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("artifact not found: %s", path)
		}
		return path, nil
	}

	find := func() (string, error) {
		if source, name, ok := strings.Cut(ref, ":"); ok {
			path := filepath.Join(l.projectRoot, l.outDir, filepath.Base(source), name+".json")
			if _, err := os.Stat(path); err != nil {
				return "", nil
			}
			return path, nil
		}
		return l.findByName(ref)
	}

	path, err := find()
	if err != nil {
		return "", err
	}
	if path == "" && l.buildOnce(ctx) {
		path, err = find()
		if err != nil {
			return "", err
		}
	}
	if path == "" {
		return "", fmt.Errorf("no artifact found for %s in %s (run forge build?)", ref, filepath.Join(l.projectRoot, l.outDir))
	}
	return path, nil
}

// findByName looks for out/*/<name>.json and fails if the name is ambiguous
func (l *Loader) findByName(name string) (string, error) {
	root := filepath.Join(l.projectRoot, l.outDir)
	var matches []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() && d.Name() == "build-info" {
			return fs.SkipDir
		}
		if !d.IsDir() && d.Name() == name+".json" {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", root, err)
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		for i, m := range matches {
			matches[i] = l.relative(m)
		}
		return "", fmt.Errorf("contract name %s is ambiguous, use path:name (found %s)", name, strings.Join(matches, ", "))
	}
}

// buildOnce runs forge build the first time it is needed and reports
// whether a build happened
func (l *Loader) buildOnce(ctx context.Context) bool {
	l.buildMu.Lock()
	defer l.buildMu.Unlock()

	if !l.build || l.hasBuilt {
		return false
	}
	l.hasBuilt = true

	if _, err := exec.LookPath("forge"); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "forge", "build")
	cmd.Dir = l.projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		l.log.Warn("forge build failed", "error", err, "output", string(output))
		return false
	}
	return true
}

func (l *Loader) relative(path string) string {
	if rel, err := filepath.Rel(l.projectRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func contractName(ref, path string, artifact *foundryArtifact) string {
	for _, name := range artifact.Metadata.Settings.CompilationTarget {
		return name
	}
	if _, name, ok := strings.Cut(ref, ":"); ok {
		return name
	}
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// Ensure Loader implements ArtifactLoader
var _ usecase.ArtifactLoader = (*Loader)(nil)
