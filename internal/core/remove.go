package core

import (
	"fmt"
	"slices"

	"github.com/barysiuk/extkit/internal/core/manifest"
)

// Remove uninstalls the extension name. Blocks and files are removed before
// the record is deleted, so running Remove again after a failure repeats
// only the steps that did not complete.
func (r *Reconciler) Remove(name string) (*Report, error) {
	rep := r.begin("remove", name)

	state, err := r.store.Load()
	if err != nil {
		return r.fail(rep, PhaseValidating, name, err)
	}
	p := state.Find(name)
	if p == nil {
		return r.fail(rep, PhaseValidating, name, fmt.Errorf("%s: %w", name, ErrNotInstalled))
	}
	rec := *p
	rep.Version = rec.Version

	rep.Phase = PhaseInjecting
	m, mErr := r.storage.Manifest(name)
	r.stripExtension(rep, name, m, mErr)

	rep.Phase = PhaseInstalling
	for _, id := range rec.OwnedReplacements {
		r.removeEverywhere(rep, id)
	}

	others := state.Others(name)
	customs := slices.Clone(rec.Behaviors)
	if m != nil {
		// Behaviors left behind by an interrupted install are not recorded.
		for _, bp := range m.CustomBehaviors() {
			id := manifest.BehaviorID(r.storage.Dir(name), bp)
			if !slices.Contains(customs, id) && !ownsBehavior(others, id) && !r.catalog.Has(id) {
				customs = append(customs, id)
			}
		}
	}
	for _, id := range customs {
		r.removeEverywhere(rep, id)
	}

	r.restore(rep, ComputeRestoration(rec.OwnedReplacements, others, r.catalog))

	for _, key := range rec.ServerConfigs {
		r.removeServerConfig(rep, key)
	}

	if err := r.storage.Remove(name); err != nil {
		return r.fail(rep, PhaseInstalling, name, err)
	}

	rep.Phase = PhaseRecording
	state.Delete(name)
	rep.add(PhaseRecording, "", name, StatusOK, "record deleted")

	rep.Phase = PhaseInjecting
	r.reinject(rep, state, "")

	return r.finish(rep, state)
}

func ownsBehavior(records []ExtensionRecord, id string) bool {
	for _, rec := range records {
		if slices.Contains(rec.Behaviors, id) {
			return true
		}
	}
	return false
}
