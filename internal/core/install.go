package core

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/barysiuk/extkit/internal/core/manifest"
	"github.com/barysiuk/extkit/internal/core/skill"
)

// Install resolves src and installs or re-installs the extension it holds.
//
// Resolution and validation failures return before anything is written.
// Once installing starts, per-agent failures are recovered locally and
// reported as steps; the returned error is then only set when the state
// cannot be stored.
func (r *Reconciler) Install(ctx context.Context, src string) (*Report, error) {
	rep := r.begin("install", "")

	res, err := r.resolver.Resolve(ctx, src)
	if err != nil {
		return r.fail(rep, PhaseResolving, src, err)
	}
	defer func() { _ = res.Close() }()

	m := res.Manifest
	rep.Extension, rep.Version = m.Name, m.Version
	rep.log = rep.log.With("extension", m.Name)
	rep.add(PhaseResolving, "", res.Source, StatusOK, m.Name+"@"+m.Version)

	rep.Phase = PhaseValidating
	state, err := r.store.Load()
	if err != nil {
		return r.fail(rep, PhaseValidating, m.Name, err)
	}

	var prev *ExtensionRecord
	if p := state.Find(m.Name); p != nil {
		cp := *p
		prev = &cp
		rep.PreviousVersion = prev.Version
	}
	rep.Change = ClassifyVersion(rep.PreviousVersion, m.Version)

	others := state.Others(m.Name)
	if err := CheckConflict(m, others); err != nil {
		return r.fail(rep, PhaseValidating, m.Name, err)
	}

	customPaths := m.CustomBehaviors()
	customIDs := make([]string, len(customPaths))
	for i, p := range customPaths {
		customIDs[i] = manifest.BehaviorID(res.Dir, p)
		if err := skill.ValidID(customIDs[i]); err != nil {
			return r.fail(rep, PhaseValidating, p, err)
		}
	}
	if err := CheckBehaviorConflict(m.Name, customIDs, others, r.catalog); err != nil {
		return r.fail(rep, PhaseValidating, m.Name, err)
	}

	for _, rp := range m.ReplacementList() {
		if !r.catalog.Has(rp.BaseID) {
			rep.add(PhaseValidating, "", rp.BaseID, StatusWarning, "not a base behavior; nothing is restored when it is released")
		}
	}
	for _, t := range r.targets {
		if !m.SupportsAgent(t.Name()) {
			rep.addf(PhaseValidating, t.Name(), m.Name, StatusWarning, "extension does not list %s as supported", t.Name())
		}
	}

	staged, err := r.storage.Stage(m.Name, res.Dir)
	if err != nil {
		return r.fail(rep, PhaseValidating, m.Name, err)
	}
	defer staged.Discard()
	rep.add(PhaseValidating, "", m.Name, StatusOK, "no conflicts")

	rep.Phase = PhaseInstalling
	if prev != nil {
		r.teardownPrevious(rep, prev, m, others)
	}

	if err := staged.Commit(); err != nil {
		if prev != nil {
			r.reinstatePrevious(rep, prev, state)
		}
		return r.fail(rep, PhaseInstalling, m.Name, err)
	}
	dir := r.storage.Dir(m.Name)

	rec := ExtensionRecord{
		Name:        m.Name,
		Version:     m.Version,
		Source:      res.Source,
		Checksum:    res.Checksum,
		InstalledAt: r.now().UTC(),
	}

	for _, rp := range m.ReplacementList() {
		srcDir := filepath.Join(dir, filepath.FromSlash(rp.Path))
		if r.installReplacement(rep, rp.BaseID, srcDir, prev != nil && prev.Owns(rp.BaseID)) {
			rec.OwnedReplacements = append(rec.OwnedReplacements, rp.BaseID)
		}
	}
	for i, p := range customPaths {
		if r.installCustom(rep, customIDs[i], filepath.Join(dir, filepath.FromSlash(p))) {
			rec.Behaviors = append(rec.Behaviors, customIDs[i])
		}
	}
	rec.ServerConfigs = r.mergeServerConfigs(rep, m, dir)

	rep.Phase = PhaseRecording
	state.Put(rec)
	rep.addf(PhaseRecording, "", m.Name, StatusOK, "%d replacements, %d behaviors, %d server configs",
		len(rec.OwnedReplacements), len(rec.Behaviors), len(rec.ServerConfigs))

	rep.Phase = PhaseInjecting
	r.applyInjections(rep, m.Name, m)
	r.reinject(rep, state, m.Name)

	return r.finish(rep, state)
}

// teardownPrevious undoes the effects of the installed version of an
// extension before its new version is installed: marker blocks, replacement
// and custom installs, released ids and dropped server configs.
func (r *Reconciler) teardownPrevious(rep *Report, prev *ExtensionRecord, next *manifest.Manifest, others []ExtensionRecord) {
	prevManifest, err := r.storage.Manifest(prev.Name)
	r.stripExtension(rep, prev.Name, prevManifest, err)

	for _, id := range prev.OwnedReplacements {
		r.removeEverywhere(rep, id)
	}
	for _, id := range prev.Behaviors {
		r.removeEverywhere(rep, id)
	}

	claimed := next.ReplacedIDs()
	var released []string
	for _, id := range prev.OwnedReplacements {
		if !claimed[id] {
			released = append(released, id)
		}
	}
	r.restore(rep, ComputeRestoration(released, others, r.catalog))

	keep := make(map[string]bool, len(next.ServerConfigs))
	for _, sc := range next.ServerConfigs {
		keep[sc.Key] = true
	}
	for _, key := range prev.ServerConfigs {
		if !keep[key] {
			r.removeServerConfig(rep, key)
		}
	}

	rep.add(PhaseInstalling, "", prev.Name, StatusOK, fmt.Sprintf("previous version %s removed", prev.Version))
}

// reinstatePrevious puts the installed version of an extension back from its
// durable copy after the new version could not be stored. Ids that cannot be
// reinstalled fall back to their base behaviors and leave the record.
func (r *Reconciler) reinstatePrevious(rep *Report, prev *ExtensionRecord, state *State) {
	rec := *prev
	rec.OwnedReplacements, rec.Behaviors, rec.ServerConfigs = nil, nil, nil

	pm, err := r.storage.Manifest(prev.Name)
	if err != nil {
		rep.addf(PhaseRollingBack, "", prev.Name, StatusFailed, "previous version cannot be reinstated: %v", err)
		r.restore(rep, ComputeRestoration(prev.OwnedReplacements, state.Others(prev.Name), r.catalog))
		state.Put(rec)
		r.reinject(rep, state, prev.Name)
		r.saveRolledBack(rep, state)
		return
	}

	dir := r.storage.Dir(prev.Name)
	for _, rp := range pm.ReplacementList() {
		if !prev.Owns(rp.BaseID) {
			continue
		}
		if r.installReplacement(rep, rp.BaseID, filepath.Join(dir, filepath.FromSlash(rp.Path)), true) {
			rec.OwnedReplacements = append(rec.OwnedReplacements, rp.BaseID)
		}
	}
	var lost []string
	for _, id := range prev.OwnedReplacements {
		if !rec.Owns(id) && !pm.ReplacedIDs()[id] {
			lost = append(lost, id)
		}
	}
	r.restore(rep, ComputeRestoration(lost, state.Others(prev.Name), r.catalog))

	for _, p := range pm.CustomBehaviors() {
		id := manifest.BehaviorID(dir, p)
		if !slices.Contains(prev.Behaviors, id) {
			continue
		}
		if r.installCustom(rep, id, filepath.Join(dir, filepath.FromSlash(p))) {
			rec.Behaviors = append(rec.Behaviors, id)
		}
	}
	rec.ServerConfigs = r.mergeServerConfigs(rep, pm, dir)

	state.Put(rec)
	r.applyInjections(rep, prev.Name, pm)
	r.reinject(rep, state, prev.Name)
	rep.addf(PhaseRollingBack, "", prev.Name, StatusRolledBack, "previous version %s reinstated", prev.Version)
	r.saveRolledBack(rep, state)
}

func (r *Reconciler) saveRolledBack(rep *Report, state *State) {
	if err := r.store.Save(state); err != nil {
		rep.add(PhaseRollingBack, "", "state", StatusFailed, err.Error())
	}
}
