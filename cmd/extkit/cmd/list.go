package cmd

import (
	"fmt"
	"os"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/barysiuk/extkit/internal/core/command"
	"github.com/spf13/cobra"
)

// listEntry is the JSON form of one installed extension.
type listEntry struct {
	core.ExtensionRecord
	Commands []string `json:"commands,omitempty"`
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed extensions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		state, err := p.rec.Store().Load()
		if err != nil {
			return err
		}
		table := command.Load(p.rec.Storage(), state.Names(), p.log)

		entries := make([]listEntry, 0, len(state.Extensions))
		for _, rec := range state.Extensions {
			e := listEntry{ExtensionRecord: rec}
			for _, c := range table.Commands(rec.Name) {
				e.Commands = append(e.Commands, c.Name)
			}
			entries = append(entries, e)
		}

		if wantJSON(cmd) {
			return writeJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "No extensions installed.")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Name,
				e.Version,
				dash(joinStrings(e.OwnedReplacements)),
				dash(joinStrings(e.Behaviors)),
				dash(joinStrings(e.Commands)),
				e.Source,
			})
		}
		renderTable(os.Stdout, []string{"NAME", "VERSION", "REPLACES", "SKILLS", "COMMANDS", "SOURCE"}, rows, 48)

		for _, f := range table.Failures() {
			fmt.Fprintln(os.Stdout, warningStyle.Render(fmt.Sprintf("%s: %v", f.Extension, f.Err)))
		}
		return nil
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(listCmd)
}
