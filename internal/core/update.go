package core

import (
	"path/filepath"
	"slices"
)

// Update refreshes the base behaviors on every agent, reinstalls every
// owned replacement from its durable copy and re-applies all injections.
//
// A record whose durable manifest cannot be loaded, or no longer declares an
// id it owns, releases that id; released ids are restored from the base
// catalog.
func (r *Reconciler) Update() (*Report, error) {
	rep := r.begin("update", "")

	state, err := r.store.Load()
	if err != nil {
		return r.fail(rep, PhaseValidating, "state", err)
	}
	if state.Agents == nil {
		state.Agents = make(map[string]AgentState)
	}

	owned := make(map[string]string)
	for _, rec := range state.Extensions {
		for _, id := range rec.OwnedReplacements {
			owned[id] = rec.Name
		}
	}

	rep.Phase = PhaseInstalling
	available := r.catalog.IDs()
	for _, t := range r.targets {
		added, dropped := diffIDs(state.Agents[t.Name()].Behaviors, available)
		for _, id := range added {
			rep.add(PhaseValidating, t.Name(), id, StatusOK, "new base behavior")
		}
		for _, id := range dropped {
			if owned[id] != "" || ownsBehavior(state.Extensions, id) {
				continue
			}
			if _, err := r.installer.Remove(t, id); err != nil {
				rep.add(PhaseInstalling, t.Name(), id, StatusWarning, err.Error())
				continue
			}
			rep.add(PhaseInstalling, t.Name(), id, StatusOK, "no longer shipped; removed")
		}

		installed := make([]string, 0, len(available))
		for _, id := range available {
			if owner := owned[id]; owner != "" {
				rep.add(PhaseInstalling, t.Name(), id, StatusSkipped, "replaced by "+owner)
				continue
			}
			if err := r.installer.InstallBase(t, id); err != nil {
				rep.add(PhaseInstalling, t.Name(), id, StatusFailed, err.Error())
				continue
			}
			installed = append(installed, id)
		}
		rep.addf(PhaseInstalling, t.Name(), "base", StatusOK, "%d base behaviors refreshed", len(installed))
		state.Agents[t.Name()] = AgentState{Behaviors: slices.Clone(available)}
	}

	var released []string
	for i := range state.Extensions {
		rec := &state.Extensions[i]
		if len(rec.OwnedReplacements) == 0 {
			continue
		}

		m, err := r.storage.Manifest(rec.Name)
		if err != nil {
			rep.add(PhaseInstalling, "", rec.Name, StatusWarning, err.Error()+"; releasing its replacements")
			released = append(released, rec.OwnedReplacements...)
			rec.OwnedReplacements = nil
			continue
		}

		paths := make(map[string]string, len(m.Replaces))
		for _, rp := range m.ReplacementList() {
			paths[rp.BaseID] = rp.Path
		}

		var keep []string
		for _, id := range rec.OwnedReplacements {
			p, ok := paths[id]
			if !ok {
				rep.add(PhaseInstalling, "", id, StatusWarning, rec.Name+" no longer replaces it; releasing")
				released = append(released, id)
				continue
			}
			srcDir := filepath.Join(r.storage.Dir(rec.Name), filepath.FromSlash(p))
			if r.installReplacement(rep, id, srcDir, true) {
				keep = append(keep, id)
			}
		}
		rec.OwnedReplacements = keep
	}

	r.restore(rep, ComputeRestoration(released, state.Extensions, r.catalog))

	rep.Phase = PhaseInjecting
	r.reinject(rep, state, "")

	return r.finish(rep, state)
}

// diffIDs returns the ids in next but not in prev and the ids in prev but
// not in next.
func diffIDs(prev, next []string) (added, dropped []string) {
	for _, id := range next {
		if !slices.Contains(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !slices.Contains(next, id) {
			dropped = append(dropped, id)
		}
	}
	return added, dropped
}
