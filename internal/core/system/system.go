// Package system defines the agent systems extkit reconciles against.
//
// A System represents an AI coding tool (Claude Code, Cursor, Codex, etc.).
// Each system knows where it reads skills from inside a project and, when it
// supports them, which settings file holds its server configuration entries.
// Systems are self-contained Go structs registered from init().
package system

import (
	"fmt"
	"path/filepath"
	"strings"
)

// System defines how an AI coding tool integrates with extkit.
type System interface {
	// Identity
	Name() string        // machine name: "claude-code", "cursor"
	DisplayName() string // human name: "Claude Code", "Cursor"

	// Detection
	IsInstalled() bool                       // globally installed on this machine
	IsActiveInFolder(folderPath string) bool // has config artifacts in this folder
	DetectionSignals() []string              // config files/dirs indicating active use

	// Paths
	SkillsDir() string // project-relative skills directory

	// Server configuration entries (settings file merge).
	SupportsServerConfig() bool
	ServerConfigPath(projectDir string) string
	MergeServerConfig(projectDir, key string, template []byte) error
	RemoveServerConfig(projectDir, key string) error
}

// --- Registry ---

var systems []System

// Register adds a system to the global registry.
func Register(s System) { systems = append(systems, s) }

// All returns all registered systems.
func All() []System { return systems }

// ByName returns the system with the given machine name, if registered.
func ByName(name string) (System, bool) {
	for _, s := range systems {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// ByNames resolves a list of system names to System values.
// Returns an error if any name is unknown.
func ByNames(names []string) ([]System, error) {
	result := make([]System, 0, len(names))
	for _, name := range names {
		s, ok := ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown system %q; available: %s",
				name, strings.Join(Names(systems), ", "))
		}
		result = append(result, s)
	}
	return result, nil
}

// DetectInFolder returns the systems that show config artifacts in the
// given project folder, in registration order.
func DetectInFolder(path string) []System {
	var detected []System
	for _, s := range systems {
		if s.IsActiveInFolder(path) {
			detected = append(detected, s)
		}
	}
	return detected
}

// Names returns the machine names of the given systems.
func Names(systems []System) []string {
	names := make([]string, len(systems))
	for i, s := range systems {
		names[i] = s.Name()
	}
	return names
}

// DisplayNames returns the display names of the given systems.
func DisplayNames(systems []System) []string {
	names := make([]string, len(systems))
	for i, s := range systems {
		names[i] = s.DisplayName()
	}
	return names
}

// --- Targets ---

// SkillFile is the entry point file of every installed behavior.
const SkillFile = "SKILL.md"

// Target is one system bound to a project root: the unit every lifecycle
// operation iterates over.
type Target struct {
	System     System
	ProjectDir string
}

// Name returns the machine name of the target's system.
func (t Target) Name() string { return t.System.Name() }

// Root returns the absolute skills directory of the target.
func (t Target) Root() string {
	return filepath.Join(t.ProjectDir, t.System.SkillsDir())
}

// BehaviorDir returns the directory a behavior id is installed into.
func (t Target) BehaviorDir(id string) string {
	return filepath.Join(t.Root(), id)
}

// BehaviorPath returns the path of the behavior's SKILL.md file.
func (t Target) BehaviorPath(id string) string {
	return filepath.Join(t.BehaviorDir(id), SkillFile)
}

// Targets binds the named systems to projectDir. Systems sharing a skills
// directory collapse into the first one listed, so every file tree is
// reconciled exactly once.
func Targets(names []string, projectDir string) ([]Target, error) {
	resolved, err := ByNames(names)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var targets []Target
	for _, s := range resolved {
		dir := filepath.Clean(s.SkillsDir())
		if seen[dir] {
			continue
		}
		seen[dir] = true
		targets = append(targets, Target{System: s, ProjectDir: projectDir})
	}
	return targets, nil
}
