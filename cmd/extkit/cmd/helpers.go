package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/spf13/cobra"
)

// project bundles what a command needs to operate on one project.
type project struct {
	dir    string
	rec    *core.Reconciler
	config *core.Config
	log    *slog.Logger
}

// openProject resolves --dir and wires a reconciler for it.
func openProject(cmd *cobra.Command) (*project, error) {
	dir, err := resolveTargetDir(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger(cmd)
	rec, cfg, err := core.Open(dir, log)
	if err != nil {
		return nil, fmt.Errorf("opening project: %w", err)
	}
	return &project{dir: dir, rec: rec, config: cfg, log: log}, nil
}

// resolveTargetDir resolves the --dir flag or falls back to cwd.
func resolveTargetDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return cwd, nil
}

// splitNames parses a comma-separated flag value.
func splitNames(flag string) []string {
	var names []string
	for _, n := range strings.Split(flag, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// joinStrings concatenates string slices with ", " separator.
func joinStrings(ss []string) string {
	return strings.Join(ss, ", ")
}

func wantJSON(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
