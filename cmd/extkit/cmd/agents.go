package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/barysiuk/extkit/internal/core/system"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List supported agents and the ones this project uses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}

		var active []string
		for _, t := range p.rec.Targets() {
			active = append(active, t.Name())
		}

		rows := make([][]string, 0, len(system.All()))
		for _, s := range system.All() {
			status := "-"
			if slices.Contains(active, s.Name()) {
				status = "active"
			}
			mcp := "no"
			if s.SupportsServerConfig() {
				mcp = "yes"
			}
			rows = append(rows, []string{s.Name(), s.DisplayName(), status, mcp})
		}

		if wantJSON(cmd) {
			return writeJSON(map[string]any{"active": active})
		}
		fmt.Fprintln(os.Stdout, titleStyle.Render("Agents"))
		renderTable(os.Stdout, []string{"NAME", "DISPLAY NAME", "STATUS", "SERVER CONFIG"}, rows, 32)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
