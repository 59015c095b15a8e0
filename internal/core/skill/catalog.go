// Package skill installs behavior directories ("skills") into agent targets
// and provides the catalog of base behaviors shipped with extkit.
package skill

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/barysiuk/extkit/internal/core/system"
)

//go:embed base
var baseFS embed.FS

// ErrUnknownBase is returned when a base behavior id is not in the catalog.
var ErrUnknownBase = errors.New("unknown base behavior")

// Catalog lists the base behaviors and serves their file trees.
type Catalog interface {
	IDs() []string
	Has(id string) bool
	FS(id string) (fs.FS, error)
}

// FSCatalog is a Catalog backed by a file system whose top-level
// directories each hold one behavior (a SKILL.md plus supporting files).
type FSCatalog struct {
	fsys fs.FS
	ids  []string
}

// NewFSCatalog scans fsys for behavior directories.
func NewFSCatalog(fsys fs.FS) (*FSCatalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	c := &FSCatalog{fsys: fsys}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := fs.Stat(fsys, path.Join(e.Name(), system.SkillFile)); err != nil {
			continue
		}
		c.ids = append(c.ids, e.Name())
	}
	sort.Strings(c.ids)
	return c, nil
}

// Embedded returns the base catalog compiled into the binary.
func Embedded() *FSCatalog {
	sub, err := fs.Sub(baseFS, "base")
	if err != nil {
		panic(err)
	}
	c, err := NewFSCatalog(sub)
	if err != nil {
		panic(err)
	}
	return c
}

// DirCatalog returns a catalog read from a directory on disk.
func DirCatalog(dir string) (*FSCatalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("base skills directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base skills directory %s is not a directory", dir)
	}
	return NewFSCatalog(os.DirFS(dir))
}

// IDs returns the base behavior ids in sorted order.
func (c *FSCatalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// Has reports whether id is a base behavior.
func (c *FSCatalog) Has(id string) bool {
	i := sort.SearchStrings(c.ids, id)
	return i < len(c.ids) && c.ids[i] == id
}

// FS returns the file tree of the base behavior id.
func (c *FSCatalog) FS(id string) (fs.FS, error) {
	if !c.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBase, id)
	}
	return fs.Sub(c.fsys, id)
}
