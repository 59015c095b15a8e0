// Package manifest loads and validates extension manifests.
//
// A manifest is looked up in an extension directory as extension.json,
// extension.yaml, extension.yml or extension.toml (first found wins) and is
// validated against an embedded JSON Schema before any further checks.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/barysiuk/extkit/internal/core/skill"
	"github.com/barysiuk/extkit/internal/core/system"
)

// FileNames lists the manifest file names in lookup order.
var FileNames = []string{"extension.json", "extension.yaml", "extension.yml", "extension.toml"}

// ErrNotFound is returned when a directory holds no manifest file.
var ErrNotFound = errors.New("no extension manifest found")

// Manifest is the declarative description of one extension.
type Manifest struct {
	Name          string            `json:"name" yaml:"name" toml:"name"`
	Version       string            `json:"version" yaml:"version" toml:"version"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Commands      []Command         `json:"commands,omitempty" yaml:"commands,omitempty" toml:"commands,omitempty"`
	Agents        []string          `json:"agents,omitempty" yaml:"agents,omitempty" toml:"agents,omitempty"`
	Injections    []Injection       `json:"injections,omitempty" yaml:"injections,omitempty" toml:"injections,omitempty"`
	Behaviors     []string          `json:"skills,omitempty" yaml:"skills,omitempty" toml:"skills,omitempty"`
	Replaces      map[string]string `json:"replaces,omitempty" yaml:"replaces,omitempty" toml:"replaces,omitempty"`
	ServerConfigs []ServerConfig    `json:"serverConfigs,omitempty" yaml:"serverConfigs,omitempty" toml:"serverConfigs,omitempty"`
}

// Command is a shell command an extension contributes to `extkit run`.
type Command struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Script      string `json:"script" yaml:"script" toml:"script"`
}

// Injection adds the content of File to the behavior Target.
type Injection struct {
	Target   string `json:"target" yaml:"target" toml:"target"`
	Position string `json:"position" yaml:"position" toml:"position"`
	File     string `json:"file" yaml:"file" toml:"file"`
}

// ServerConfig is a settings entry merged into every agent that supports
// server configuration.
type ServerConfig struct {
	Key         string `json:"key" yaml:"key" toml:"key"`
	Template    string `json:"template" yaml:"template" toml:"template"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty" toml:"instruction,omitempty"`
}

// Replacement pairs a behavior path with the base id it shadows.
type Replacement struct {
	Path   string
	BaseID string
}

// Find returns the path of the manifest file in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNotFound)
}

// Load finds, parses and validates the manifest in dir.
func Load(dir string) (*Manifest, error) {
	p, err := Find(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(filepath.Base(p), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}

// ReplacementList returns the replaces entries ordered by base id, then path.
func (m *Manifest) ReplacementList() []Replacement {
	out := make([]Replacement, 0, len(m.Replaces))
	for p, id := range m.Replaces {
		out = append(out, Replacement{Path: p, BaseID: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseID != out[j].BaseID {
			return out[i].BaseID < out[j].BaseID
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// ReplacedIDs returns the set of base ids the manifest replaces.
func (m *Manifest) ReplacedIDs() map[string]bool {
	ids := make(map[string]bool, len(m.Replaces))
	for _, id := range m.Replaces {
		ids[id] = true
	}
	return ids
}

// CustomBehaviors returns the behavior paths that are not replacements.
func (m *Manifest) CustomBehaviors() []string {
	var out []string
	for _, p := range m.Behaviors {
		if _, ok := m.Replaces[p]; ok {
			continue
		}
		if _, ok := m.Replaces[cleanRel(p)]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// BehaviorID returns the id a behavior path installs under: the frontmatter
// name of its SKILL.md when present, else the last path element.
func BehaviorID(dir, p string) string {
	if name, err := skill.ReadName(filepath.Join(dir, p, system.SkillFile)); err == nil && name != "" {
		return name
	}
	return path.Base(cleanRel(p))
}

// Command returns the command named name.
func (m *Manifest) Command(name string) (Command, bool) {
	for _, c := range m.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// SupportsAgent reports whether the manifest lists agent as compatible. An
// empty agents list means every agent.
func (m *Manifest) SupportsAgent(agent string) bool {
	if len(m.Agents) == 0 {
		return true
	}
	for _, a := range m.Agents {
		if a == agent {
			return true
		}
	}
	return false
}

func cleanRel(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// relPathError reports why p cannot be used as a path inside an extension.
func relPathError(p string) string {
	switch {
	case p == "":
		return "is empty"
	case path.IsAbs(filepath.ToSlash(p)) || filepath.IsAbs(p) || strings.HasPrefix(p, "/"):
		return "must be relative"
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return `must not contain ".."`
		}
	}
	return ""
}
