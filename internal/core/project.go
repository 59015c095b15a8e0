package core

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/barysiuk/extkit/internal/core/skill"
	"github.com/barysiuk/extkit/internal/core/source"
	"github.com/barysiuk/extkit/internal/core/system"
)

// DefaultAgent is used when no agent is configured or detected.
const DefaultAgent = "claude-code"

// Open wires a Reconciler for the project rooted at projectDir from its
// configuration. Agents come from the config; when none are configured the
// systems active in the project are used, falling back to DefaultAgent.
func Open(projectDir string, log *slog.Logger) (*Reconciler, *Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving project directory: %w", err)
	}

	cfg, err := NewConfigManager(abs).Load()
	if err != nil {
		return nil, nil, err
	}

	targets, err := system.Targets(AgentNames(cfg, abs), abs)
	if err != nil {
		return nil, nil, err
	}

	catalog := skill.Embedded()
	if cfg.BaseSkillsDir != "" {
		catalog, err = skill.DirCatalog(cfg.BaseSkillsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("loading base skills: %w", err)
		}
	}

	r := NewReconciler(Options{
		ProjectDir: abs,
		Targets:    targets,
		Installer:  skill.NewInstaller(catalog),
		Catalog:    catalog,
		Resolver:   source.NewResolver(log),
		Logger:     log,
	})
	return r, cfg, nil
}

// AgentNames returns the agent systems an operation runs against.
func AgentNames(cfg *Config, projectDir string) []string {
	if len(cfg.Agents) > 0 {
		return cfg.Agents
	}
	if detected := system.Names(system.DetectInFolder(projectDir)); len(detected) > 0 {
		return detected
	}
	return []string{DefaultAgent}
}
