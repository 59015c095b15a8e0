package skill

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/barysiuk/extkit/internal/core/system"
)

// ValidID checks that id can be used as a behavior directory name.
func ValidID(id string) error {
	switch {
	case id == "":
		return errors.New("behavior id is empty")
	case id == "." || id == "..":
		return fmt.Errorf("invalid behavior id %q", id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("behavior id %q must not start with a dot", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("behavior id %q must not contain path separators", id)
	}
	return nil
}

// Installer writes behavior directories into agent targets.
type Installer struct {
	catalog Catalog
}

// NewInstaller creates an installer restoring base behaviors from catalog.
func NewInstaller(catalog Catalog) *Installer {
	return &Installer{catalog: catalog}
}

// Catalog returns the base catalog the installer restores from.
func (in *Installer) Catalog() Catalog { return in.catalog }

// InstallBase installs the base behavior id into t, replacing whatever is
// installed under that id.
func (in *Installer) InstallBase(t system.Target, id string) error {
	src, err := in.catalog.FS(id)
	if err != nil {
		return err
	}
	return install(t, id, src)
}

// InstallFrom installs the behavior directory srcDir into t under id. The
// SKILL.md frontmatter name is rewritten to id.
func (in *Installer) InstallFrom(t system.Target, id, srcDir string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("behavior source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("behavior source %s is not a directory", srcDir)
	}
	return install(t, id, os.DirFS(srcDir))
}

// Remove deletes the behavior id from t and returns the ids it removed.
// Removing an id that is not installed is a no-op.
func (in *Installer) Remove(t system.Target, id string) ([]string, error) {
	if err := ValidID(id); err != nil {
		return nil, err
	}
	dir := t.BehaviorDir(id)
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing %s from %s: %w", id, t.Name(), err)
	}
	cleanupEmptyDir(t.Root())
	return []string{id}, nil
}

// Installed lists the behavior ids present in t.
func (in *Installer) Installed(t system.Target) ([]string, error) {
	entries, err := os.ReadDir(t.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(t.BehaviorPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// install copies src into a staging directory next to the destination and
// swaps it into place, so a failed copy never leaves a half-written behavior.
func install(t system.Target, id string, src fs.FS) error {
	if err := ValidID(id); err != nil {
		return err
	}

	root := t.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating skills dir for %s: %w", t.Name(), err)
	}

	stage, err := os.MkdirTemp(root, ".stage-"+id+"-")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(stage) }()

	if err := copyFS(src, stage); err != nil {
		return fmt.Errorf("copying %s: %w", id, err)
	}

	skillPath := filepath.Join(stage, system.SkillFile)
	data, err := os.ReadFile(skillPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("behavior %s has no %s", id, system.SkillFile)
		}
		return err
	}
	rewritten, err := RewriteName(data, id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if string(rewritten) != string(data) {
		if err := os.WriteFile(skillPath, rewritten, 0o644); err != nil {
			return err
		}
	}

	if err := os.Chmod(stage, 0o755); err != nil {
		return err
	}
	dest := t.BehaviorDir(id)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("replacing %s: %w", id, err)
	}
	if err := os.Rename(stage, dest); err != nil {
		return fmt.Errorf("installing %s into %s: %w", id, t.Name(), err)
	}
	return nil
}

// copyFS copies the tree of src into dst, skipping VCS metadata.
func copyFS(src fs.FS, dst string) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return fs.SkipDir
		}

		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		mode := fs.FileMode(0o644)
		if info, err := d.Info(); err == nil && info.Mode().Perm()&0o111 != 0 {
			mode = 0o755
		}
		return os.WriteFile(target, data, mode)
	})
}

func cleanupEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	if len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
