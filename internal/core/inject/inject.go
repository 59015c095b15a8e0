// Package inject applies and strips the injection directives of one
// extension against one agent target.
//
// Every per-file problem (missing target behavior, missing content file,
// unreadable or unwritable file) skips that directive with a warning. An
// extension can never make an install fail through its injections.
package inject

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/barysiuk/extkit/internal/core/manifest"
	"github.com/barysiuk/extkit/internal/core/marker"
	"github.com/barysiuk/extkit/internal/core/skill"
	"github.com/barysiuk/extkit/internal/core/system"
)

// Engine applies marker blocks to behavior files.
type Engine struct {
	log *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// ApplyAll applies every injection of m to t, reading content files from
// sourceDir. It returns the number of directives applied.
func (e *Engine) ApplyAll(ext string, t system.Target, m *manifest.Manifest, sourceDir string) int {
	count := 0
	for _, inj := range m.Injections {
		log := e.log.With("extension", ext, "agent", t.Name(), "target", inj.Target, "position", inj.Position)

		if err := skill.ValidID(inj.Target); err != nil {
			log.Warn("injection skipped: invalid target", "error", err)
			continue
		}
		path := t.BehaviorPath(inj.Target)
		text, mode, err := readText(path)
		if err != nil {
			log.Warn("injection skipped: target not readable", "error", err)
			continue
		}

		content, err := os.ReadFile(filepath.Join(sourceDir, filepath.FromSlash(inj.File)))
		if err != nil {
			log.Warn("injection skipped: content not readable", "file", inj.File, "error", err)
			continue
		}

		tag := marker.Tag{Extension: ext, Target: inj.Target, Position: marker.Position(inj.Position)}
		out := marker.Apply(text, string(content), tag)
		if out != text {
			if err := os.WriteFile(path, []byte(out), mode); err != nil {
				log.Warn("injection skipped: write failed", "error", err)
				continue
			}
		}
		log.Debug("injection applied")
		count++
	}
	return count
}

// StripAll removes the blocks of every injection of m from t and returns the
// number of files changed.
func (e *Engine) StripAll(ext string, t system.Target, m *manifest.Manifest) int {
	count := 0
	for _, inj := range m.Injections {
		if err := skill.ValidID(inj.Target); err != nil {
			e.log.Warn("strip skipped: invalid target", "extension", ext, "agent", t.Name(), "target", inj.Target, "error", err)
			continue
		}
		path := t.BehaviorPath(inj.Target)
		text, mode, err := readText(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				e.log.Warn("strip skipped", "extension", ext, "agent", t.Name(), "target", inj.Target, "error", err)
			}
			continue
		}

		tag := marker.Tag{Extension: ext, Target: inj.Target, Position: marker.Position(inj.Position)}
		out := marker.Strip(text, tag)
		if out == text {
			continue
		}
		if err := os.WriteFile(path, []byte(out), mode); err != nil {
			e.log.Warn("strip skipped: write failed", "extension", ext, "agent", t.Name(), "target", inj.Target, "error", err)
			continue
		}
		count++
	}
	return count
}

// StripByName scans every text file under the target's skills root and
// removes every block owned by ext, whatever its target and position. It is
// the recovery path when the extension's manifest cannot be loaded. It
// returns the number of blocks removed.
func (e *Engine) StripByName(ext string, t system.Target) int {
	count := 0
	root := t.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			e.log.Warn("scan skipped", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		text, mode, err := readText(path)
		if errors.Is(err, errBinary) {
			return nil
		}
		if err != nil {
			e.log.Warn("scan skipped", "path", path, "error", err)
			return nil
		}
		if !marker.MentionsExtension(text, ext) {
			return nil
		}
		out, n := marker.StripExtension(text, ext)
		if n == 0 {
			return nil
		}
		if err := os.WriteFile(path, []byte(out), mode); err != nil {
			e.log.Warn("strip skipped: write failed", "path", path, "error", err)
			return nil
		}
		count += n
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log.Warn("scan failed", "extension", ext, "agent", t.Name(), "error", err)
	}
	return count
}

// errBinary marks files that are not text.
var errBinary = errors.New("not a text file")

func readText(path string) (string, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", 0, errBinary
	}
	return string(data), info.Mode().Perm(), nil
}
