package core

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/barysiuk/extkit/internal/core/manifest"
)

// Storage keeps the durable copy of every installed extension under
// .extkit/extensions/<name>. Update and remove work from these copies, never
// from the original source.
//
// Each name maps to a single directory entry: "/" in scoped names is
// escaped, so "@acme/hello" is stored as "@acme%2Fhello". Entries starting
// with a dot are reserved for staging and are never extension names.
type Storage struct {
	root string
}

// NewStorage creates a Storage for the project rooted at projectDir.
func NewStorage(projectDir string) *Storage {
	return &Storage{root: filepath.Join(projectDir, StateDirName, extensionsDirName)}
}

// Root returns the directory holding all durable copies.
func (s *Storage) Root() string { return s.root }

// Dir returns the durable directory of extension name.
func (s *Storage) Dir(name string) string {
	return filepath.Join(s.root, url.PathEscape(name))
}

// renameDir is os.Rename; tests replace it to simulate a failing commit.
var renameDir = os.Rename

// Manifest loads the manifest of the durable copy of name. Any failure is
// wrapped in ErrMissingManifest.
func (s *Storage) Manifest(name string) (*manifest.Manifest, error) {
	m, err := manifest.Load(s.Dir(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingManifest, name, err)
	}
	return m, nil
}

// Staged is a copy of an extension tree waiting to become durable.
type Staged struct {
	storage *Storage
	name    string
	dir     string
}

// Stage copies srcDir into a temporary directory inside the storage root.
// Nothing is visible under Dir(name) until Commit.
func (s *Storage) Stage(name, srcDir string) (*Staged, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating extension storage: %w", err)
	}
	tmp, err := os.MkdirTemp(s.root, ".stage-")
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	if err := copyDirectory(srcDir, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("copying %s into storage: %w", name, err)
	}
	return &Staged{storage: s, name: name, dir: tmp}, nil
}

// Commit swaps the staged tree into place, replacing any previous copy.
// On failure the previous copy is left in place.
func (st *Staged) Commit() error {
	dest := st.storage.Dir(st.name)

	var prev string
	if dirExists(dest) {
		tmp, err := os.MkdirTemp(st.storage.root, ".prev-")
		if err != nil {
			return fmt.Errorf("moving previous copy of %s aside: %w", st.name, err)
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		prev = filepath.Join(tmp, "copy")
		if err := renameDir(dest, prev); err != nil {
			return fmt.Errorf("moving previous copy of %s aside: %w", st.name, err)
		}
	}
	if err := renameDir(st.dir, dest); err != nil {
		if prev != "" {
			_ = renameDir(prev, dest)
		}
		return fmt.Errorf("storing %s: %w", st.name, err)
	}
	st.dir = ""
	return nil
}

// Discard removes an uncommitted staged tree. No-op after Commit.
func (st *Staged) Discard() {
	if st.dir != "" {
		_ = os.RemoveAll(st.dir)
		st.dir = ""
	}
}

// Remove deletes the durable copy of name. No-op if absent.
func (s *Storage) Remove(name string) error {
	dir := s.Dir(name)
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stored copy of %s: %w", name, err)
	}
	return nil
}
