// Package core reconciles extensions against the agent skill trees of one
// project. It has zero UI dependencies and is independently testable.
package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

const (
	// StateDirName is the project-relative directory holding extkit data.
	StateDirName = ".extkit"
	// extensionsDirName holds the durable copy of every installed extension.
	extensionsDirName = "extensions"
)

var (
	// ErrNotInstalled is returned when an operation names an extension that
	// has no record.
	ErrNotInstalled = errors.New("extension is not installed")
	// ErrMissingManifest marks a durable copy whose manifest cannot be
	// loaded. It is surfaced as a warning, never as an operation failure.
	ErrMissingManifest = errors.New("extension manifest unavailable")
)

// Config represents the project configuration stored at .extkit/config.yaml.
type Config struct {
	Agents        []string `yaml:"agents,omitempty"`
	BaseSkillsDir string   `yaml:"baseSkillsDir,omitempty"`
}

// ExtensionRecord is the durable record of one installed extension.
type ExtensionRecord struct {
	Name              string    `json:"name"`
	Version           string    `json:"version"`
	Source            string    `json:"source"`
	Checksum          string    `json:"checksum,omitempty"`
	OwnedReplacements []string  `json:"ownedReplacements,omitempty"`
	Behaviors         []string  `json:"behaviors,omitempty"`     // custom behavior ids installed on every agent
	ServerConfigs     []string  `json:"serverConfigs,omitempty"` // merged server-config keys
	InstalledAt       time.Time `json:"installedAt"`
}

// Owns reports whether the record owns the replacement id.
func (r *ExtensionRecord) Owns(id string) bool {
	return slices.Contains(r.OwnedReplacements, id)
}

// AgentState is the per-agent bookkeeping kept in the state file.
type AgentState struct {
	Behaviors []string `json:"behaviors"` // base behavior ids installed by update
}

// State is the content of .extkit/state.json. It is loaded once per
// operation, mutated in memory and written back once.
type State struct {
	Version    int                   `json:"version"`
	Extensions []ExtensionRecord     `json:"extensions"`
	Agents     map[string]AgentState `json:"agents,omitempty"`
}

// Find returns the record named name, or nil.
func (s *State) Find(name string) *ExtensionRecord {
	for i := range s.Extensions {
		if s.Extensions[i].Name == name {
			return &s.Extensions[i]
		}
	}
	return nil
}

// Put inserts or replaces the record with the same name.
func (s *State) Put(rec ExtensionRecord) {
	if existing := s.Find(rec.Name); existing != nil {
		*existing = rec
		return
	}
	s.Extensions = append(s.Extensions, rec)
}

// Delete removes the record named name. No-op if absent.
func (s *State) Delete(name string) {
	s.Extensions = slices.DeleteFunc(s.Extensions, func(r ExtensionRecord) bool {
		return r.Name == name
	})
}

// Others returns copies of every record except the one named name.
func (s *State) Others(name string) []ExtensionRecord {
	out := make([]ExtensionRecord, 0, len(s.Extensions))
	for _, r := range s.Extensions {
		if r.Name != name {
			out = append(out, r)
		}
	}
	return out
}

// Names returns the record names in sorted order.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.Extensions))
	for _, r := range s.Extensions {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// OwnerOf returns the name of the record owning replacement id, or "".
func (s *State) OwnerOf(id string) string {
	for _, r := range s.Extensions {
		if r.Owns(id) {
			return r.Name
		}
	}
	return ""
}

// PartialAgentError describes a behavior that installed on some agents but
// not all. It is recorded in the operation report and never returned.
type PartialAgentError struct {
	Behavior  string
	Succeeded []string
	Failed    []string
}

func (e *PartialAgentError) Error() string {
	return fmt.Sprintf("%s installed on %d of %d agents (failed: %v)",
		e.Behavior, len(e.Succeeded), len(e.Succeeded)+len(e.Failed), e.Failed)
}
