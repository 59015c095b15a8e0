package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/barysiuk/extkit/internal/core/inject"
	"github.com/barysiuk/extkit/internal/core/manifest"
	"github.com/barysiuk/extkit/internal/core/source"
	"github.com/barysiuk/extkit/internal/core/system"
)

// SkillInstaller places behaviors into an agent's skills directory.
type SkillInstaller interface {
	InstallBase(t system.Target, id string) error
	InstallFrom(t system.Target, id, srcDir string) error
	Remove(t system.Target, id string) ([]string, error)
}

// SourceResolver turns a source string into a resolved extension tree.
type SourceResolver interface {
	Resolve(ctx context.Context, src string) (*source.Resolved, error)
}

// Options configures a Reconciler.
type Options struct {
	ProjectDir string
	Targets    []system.Target // processed in this order
	Installer  SkillInstaller
	Catalog    BaseCatalog
	Resolver   SourceResolver
	Logger     *slog.Logger
}

// Reconciler runs install, update and remove operations for one project.
// Operations are strictly sequential: agents are processed one after the
// other in configured order and the state file is written once at the end.
type Reconciler struct {
	projectDir string
	targets    []system.Target
	installer  SkillInstaller
	catalog    BaseCatalog
	resolver   SourceResolver
	storage    *Storage
	store      *Store
	injector   *inject.Engine
	log        *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts Options) *Reconciler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		projectDir: opts.ProjectDir,
		targets:    opts.Targets,
		installer:  opts.Installer,
		catalog:    opts.Catalog,
		resolver:   opts.Resolver,
		storage:    NewStorage(opts.ProjectDir),
		store:      NewStore(opts.ProjectDir),
		injector:   inject.New(log),
		log:        log,
		now:        time.Now,
	}
}

// Targets returns the agent targets in processing order.
func (r *Reconciler) Targets() []system.Target { return r.targets }

// Storage returns the durable extension storage.
func (r *Reconciler) Storage() *Storage { return r.storage }

// Store returns the state store.
func (r *Reconciler) Store() *Store { return r.store }

// Catalog returns the base behavior catalog.
func (r *Reconciler) Catalog() BaseCatalog { return r.catalog }

// begin starts the report of a new operation with its own id.
func (r *Reconciler) begin(op, ext string) *Report {
	id := uuid.Must(uuid.NewV7()).String()
	log := r.log.With("op", id, "operation", op)
	if ext != "" {
		log = log.With("extension", ext)
	}
	log.Info("operation started")
	return &Report{ID: id, Operation: op, Extension: ext, Phase: PhaseResolving, log: log}
}

// finish persists state and closes the report.
func (r *Reconciler) finish(rep *Report, state *State) (*Report, error) {
	if err := r.store.Save(state); err != nil {
		rep.add(PhaseRecording, "", "state", StatusFailed, err.Error())
		rep.log.Error("operation failed", "error", err)
		return rep, err
	}
	rep.Phase = PhaseDone
	rep.log.Info("operation finished",
		"failed", rep.Count(StatusFailed),
		"rolled_back", rep.Count(StatusRolledBack),
		"warnings", rep.Count(StatusWarning))
	return rep, nil
}

// installEverywhere runs install on every target and reports each outcome.
func (r *Reconciler) installEverywhere(rep *Report, id string, install func(system.Target) error) (ok, failed []system.Target) {
	for _, t := range r.targets {
		if err := install(t); err != nil {
			rep.add(PhaseInstalling, t.Name(), id, StatusFailed, err.Error())
			failed = append(failed, t)
			continue
		}
		rep.add(PhaseInstalling, t.Name(), id, StatusOK, "installed")
		ok = append(ok, t)
	}
	return ok, failed
}

// installReplacement installs srcDir under base id on every agent. The id
// counts as owned only if every agent succeeded; otherwise the agents that
// did install are rolled back to the base behavior. wasOwned marks an id
// whose previous copy was already removed, so base content is restored on
// the failed agents as well.
func (r *Reconciler) installReplacement(rep *Report, id, srcDir string, wasOwned bool) bool {
	ok, failed := r.installEverywhere(rep, id, func(t system.Target) error {
		return r.installer.InstallFrom(t, id, srcDir)
	})
	if len(failed) == 0 {
		return true
	}

	if len(ok) == 0 {
		rep.add(PhaseInstalling, "", id, StatusFailed, "replacement failed on every agent")
	} else {
		perr := &PartialAgentError{Behavior: id, Succeeded: targetNames(ok), Failed: targetNames(failed)}
		rep.Partial = append(rep.Partial, perr)
		rep.add(PhaseInstalling, "", id, StatusFailed, perr.Error())
	}

	for _, t := range ok {
		if _, err := r.installer.Remove(t, id); err != nil {
			rep.add(PhaseRollingBack, t.Name(), id, StatusFailed, err.Error())
			continue
		}
		detail := "replacement removed"
		if r.catalog.Has(id) {
			if err := r.installer.InstallBase(t, id); err != nil {
				rep.addf(PhaseRollingBack, t.Name(), id, StatusFailed, "restoring base behavior: %v", err)
				continue
			}
			detail = "original base behavior restored"
		}
		rep.add(PhaseRollingBack, t.Name(), id, StatusRolledBack, detail)
	}

	if wasOwned && r.catalog.Has(id) {
		for _, t := range failed {
			if err := r.installer.InstallBase(t, id); err != nil {
				rep.addf(PhaseRollingBack, t.Name(), id, StatusFailed, "restoring base behavior: %v", err)
				continue
			}
			rep.add(PhaseRollingBack, t.Name(), id, StatusRolledBack, "original base behavior restored")
		}
	}
	return false
}

// installCustom installs a custom behavior on every agent. A behavior that
// fails anywhere is removed from the agents where it succeeded.
func (r *Reconciler) installCustom(rep *Report, id, srcDir string) bool {
	ok, failed := r.installEverywhere(rep, id, func(t system.Target) error {
		return r.installer.InstallFrom(t, id, srcDir)
	})
	if len(failed) == 0 {
		return true
	}

	perr := &PartialAgentError{Behavior: id, Succeeded: targetNames(ok), Failed: targetNames(failed)}
	rep.Partial = append(rep.Partial, perr)
	rep.add(PhaseInstalling, "", id, StatusFailed, perr.Error())
	for _, t := range ok {
		if _, err := r.installer.Remove(t, id); err != nil {
			rep.add(PhaseRollingBack, t.Name(), id, StatusFailed, err.Error())
			continue
		}
		rep.add(PhaseRollingBack, t.Name(), id, StatusRolledBack, "behavior removed")
	}
	return false
}

// removeEverywhere removes behavior id from every agent.
func (r *Reconciler) removeEverywhere(rep *Report, id string) {
	for _, t := range r.targets {
		removed, err := r.installer.Remove(t, id)
		if err != nil {
			rep.add(PhaseInstalling, t.Name(), id, StatusWarning, err.Error())
			continue
		}
		if len(removed) > 0 {
			rep.add(PhaseInstalling, t.Name(), id, StatusOK, "removed")
		}
	}
}

// restore reinstalls base behaviors on every agent.
func (r *Reconciler) restore(rep *Report, ids []string) {
	for _, id := range ids {
		for _, t := range r.targets {
			if err := r.installer.InstallBase(t, id); err != nil {
				rep.addf(PhaseInstalling, t.Name(), id, StatusFailed, "restoring base behavior: %v", err)
				continue
			}
			rep.add(PhaseInstalling, t.Name(), id, StatusOK, "base behavior restored")
		}
	}
}

// stripExtension removes every marker block of ext. Without a manifest the
// agent trees are scanned for blocks carrying the extension name.
func (r *Reconciler) stripExtension(rep *Report, ext string, m *manifest.Manifest, mErr error) {
	if mErr != nil {
		rep.add(PhaseInjecting, "", ext, StatusWarning, mErr.Error())
		for _, t := range r.targets {
			n := r.injector.StripByName(ext, t)
			rep.addf(PhaseInjecting, t.Name(), ext, StatusOK, "%d blocks stripped by name", n)
		}
		return
	}
	if len(m.Injections) == 0 {
		return
	}
	for _, t := range r.targets {
		n := r.injector.StripAll(ext, t, m)
		rep.addf(PhaseInjecting, t.Name(), ext, StatusOK, "%d files cleaned", n)
	}
}

// reinject applies the injections of every record except the one named
// except. Replacing or restoring a behavior file drops the blocks other
// extensions had placed in it.
func (r *Reconciler) reinject(rep *Report, state *State, except string) {
	for _, rec := range state.Extensions {
		if rec.Name == except {
			continue
		}
		m, err := r.storage.Manifest(rec.Name)
		if err != nil {
			rep.add(PhaseInjecting, "", rec.Name, StatusWarning, err.Error())
			continue
		}
		r.applyInjections(rep, rec.Name, m)
	}
}

func (r *Reconciler) applyInjections(rep *Report, ext string, m *manifest.Manifest) {
	if len(m.Injections) == 0 {
		return
	}
	dir := r.storage.Dir(ext)
	for _, t := range r.targets {
		n := r.injector.ApplyAll(ext, t, m, dir)
		rep.addf(PhaseInjecting, t.Name(), ext, StatusOK, "%d of %d injections applied", n, len(m.Injections))
	}
}

// mergeServerConfigs merges every server config of m into the agents that
// support server configuration and returns the keys merged at least once.
func (r *Reconciler) mergeServerConfigs(rep *Report, m *manifest.Manifest, dir string) []string {
	var keys []string
	for _, sc := range m.ServerConfigs {
		tmpl, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(sc.Template)))
		if err != nil {
			rep.addf(PhaseInstalling, "", sc.Key, StatusWarning, "reading server config template: %v", err)
			continue
		}

		merged := 0
		for _, t := range r.targets {
			if !t.System.SupportsServerConfig() {
				continue
			}
			if err := t.System.MergeServerConfig(r.projectDir, sc.Key, tmpl); err != nil {
				rep.add(PhaseInstalling, t.Name(), sc.Key, StatusWarning, err.Error())
				continue
			}
			rep.add(PhaseInstalling, t.Name(), sc.Key, StatusOK, sc.Instruction)
			merged++
		}
		if merged == 0 {
			rep.add(PhaseInstalling, "", sc.Key, StatusSkipped, "no configured agent accepts server configs")
			continue
		}
		keys = append(keys, sc.Key)
	}
	return keys
}

// removeServerConfig removes key from every agent's server config file.
func (r *Reconciler) removeServerConfig(rep *Report, key string) {
	for _, t := range r.targets {
		if !t.System.SupportsServerConfig() {
			continue
		}
		if err := t.System.RemoveServerConfig(r.projectDir, key); err != nil {
			rep.add(PhaseInstalling, t.Name(), key, StatusWarning, err.Error())
			continue
		}
		rep.add(PhaseInstalling, t.Name(), key, StatusOK, "server config removed")
	}
}

func targetNames(ts []system.Target) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}

func (r *Reconciler) fail(rep *Report, phase Phase, subject string, err error) (*Report, error) {
	rep.Phase = phase
	rep.add(phase, "", subject, StatusFailed, err.Error())
	rep.log.Error("operation failed", "phase", string(phase), "error", err)
	return rep, fmt.Errorf("%s: %w", rep.Operation, err)
}
