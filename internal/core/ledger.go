package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/barysiuk/extkit/internal/core/manifest"
)

// BaseCatalog is the set of base behaviors shipped with extkit.
type BaseCatalog interface {
	IDs() []string
	Has(id string) bool
}

// ConflictError is returned when an install would break exclusive ownership
// of a behavior id. It is raised before any file is touched.
type ConflictError struct {
	Extension string // extension being installed
	Behavior  string // contested behavior id
	Owner     string // extension already holding it; "" for a base id
	Reason    string
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s cannot install %s: %s", e.Extension, e.Behavior, e.Reason)
	}
	return fmt.Sprintf("%s cannot install %s: %s (owned by %s)", e.Extension, e.Behavior, e.Reason, e.Owner)
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// CheckConflict fails when another record already holds an id that m
// replaces, either as a replacement or as a custom behavior. others must not
// contain the record of m itself.
func CheckConflict(m *manifest.Manifest, others []ExtensionRecord) error {
	for _, r := range m.ReplacementList() {
		for _, rec := range others {
			if rec.Owns(r.BaseID) {
				return &ConflictError{
					Extension: m.Name,
					Behavior:  r.BaseID,
					Owner:     rec.Name,
					Reason:    "base behavior is already replaced",
				}
			}
			if slices.Contains(rec.Behaviors, r.BaseID) {
				return &ConflictError{
					Extension: m.Name,
					Behavior:  r.BaseID,
					Owner:     rec.Name,
					Reason:    "behavior already installed",
				}
			}
		}
	}
	return nil
}

// CheckBehaviorConflict fails when a custom behavior id of extension name
// collides with a base behavior or with any behavior another record holds.
func CheckBehaviorConflict(name string, ids []string, others []ExtensionRecord, catalog BaseCatalog) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return &ConflictError{Extension: name, Behavior: id, Reason: "declared twice"}
		}
		seen[id] = true

		if catalog.Has(id) {
			return &ConflictError{Extension: name, Behavior: id, Reason: "is a base behavior; declare it under replaces"}
		}
		for _, rec := range others {
			if slices.Contains(rec.Behaviors, id) || rec.Owns(id) {
				return &ConflictError{Extension: name, Behavior: id, Owner: rec.Name, Reason: "behavior already installed"}
			}
		}
	}
	return nil
}

// ComputeRestoration returns the released ids that must be reinstalled from
// the base catalog: those the catalog knows and no remaining record owns.
// The result is sorted and free of duplicates.
func ComputeRestoration(released []string, remaining []ExtensionRecord, catalog BaseCatalog) []string {
	owned := make(map[string]bool)
	for _, rec := range remaining {
		for _, id := range rec.OwnedReplacements {
			owned[id] = true
		}
	}

	seen := make(map[string]bool, len(released))
	var out []string
	for _, id := range released {
		if seen[id] || owned[id] || !catalog.Has(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
