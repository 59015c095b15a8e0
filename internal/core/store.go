package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	stateFileName       = "state.json"
	currentStateVersion = 1
)

// Store reads and writes the extension state file of one project.
type Store struct {
	dir string
}

// NewStore creates a Store for the project rooted at projectDir.
func NewStore(projectDir string) *Store {
	return &Store{dir: filepath.Join(projectDir, StateDirName)}
}

// Path returns the full path to the state file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Version: currentStateVersion, Extensions: []ExtensionRecord{}}, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if st.Version > currentStateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", st.Version, currentStateVersion)
	}
	if st.Extensions == nil {
		st.Extensions = []ExtensionRecord{}
	}
	return &st, nil
}

// Save writes the state atomically. Records and their id lists are sorted
// for deterministic output.
func (s *Store) Save(st *State) error {
	st.Version = currentStateVersion
	sort.Slice(st.Extensions, func(i, j int) bool {
		return st.Extensions[i].Name < st.Extensions[j].Name
	})
	for i := range st.Extensions {
		sort.Strings(st.Extensions[i].OwnedReplacements)
		sort.Strings(st.Extensions[i].Behaviors)
		sort.Strings(st.Extensions[i].ServerConfigs)
	}
	for name, a := range st.Agents {
		sort.Strings(a.Behaviors)
		st.Agents[name] = a
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return writeFileAtomic(s.Path(), data)
}

// writeFileAtomic writes to a temp file then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving %s: %w", filepath.Base(path), err)
	}
	return nil
}
