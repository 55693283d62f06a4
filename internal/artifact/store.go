// Package artifact collects build outputs of a run under a single
// directory and records their digests.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Store holds the artifacts produced by one run.
type Store struct {
	dir string

	mu    sync.Mutex
	items map[string]*models.Artifact
}

// NewStore creates the artifact directory for a run.
func NewStore(baseDir, runID string) (*Store, error) {
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, items: make(map[string]*models.Artifact)}, nil
}

// Dir returns the run's artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Add copies the file at srcPath into the store under name and records its
// sha256 digest and size. Adding the same name twice replaces the entry.
func (s *Store) Add(name, srcPath string) (*models.Artifact, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact source: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create artifact %s: %w", name, err)
	}
	defer dst.Close()

	digester := digest.SHA256.Digester()
	size, err := io.Copy(io.MultiWriter(dst, digester.Hash()), src)
	if err != nil {
		return nil, fmt.Errorf("copy artifact %s: %w", name, err)
	}

	art := &models.Artifact{
		Name:   name,
		Path:   dstPath,
		Digest: digester.Digest().String(),
		Size:   size,
	}

	s.mu.Lock()
	s.items[name] = art
	s.mu.Unlock()
	return art, nil
}

// Get returns the named artifact, or nil.
func (s *Store) Get(name string) *models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[name]
}

// List returns all artifacts sorted by name.
func (s *Store) List() []*models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Artifact, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Manifest is the artifact bundle manifest written next to the artifacts.
type Manifest struct {
	RunID     string             `yaml:"run_id"`
	Version   string             `yaml:"version,omitempty"`
	Artifacts []*models.Artifact `yaml:"artifacts"`
}

// WriteManifest writes the bundle manifest for the run.
func (s *Store) WriteManifest(runID, version string) error {
	m := Manifest{RunID: runID, Version: version, Artifacts: s.List()}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal artifact manifest: %w", err)
	}
	path := filepath.Join(s.dir, "manifest.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact manifest: %w", err)
	}
	return nil
}
