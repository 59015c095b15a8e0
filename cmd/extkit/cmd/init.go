package cmd

import (
	"fmt"
	"os"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/barysiuk/extkit/internal/core/system"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Configure the project and install the base skills",
	Long: `Write .extkit/config.yaml and install the base skill catalog on every
configured agent.

Without --agents the agents already configured are kept. If none are
configured, the agents detected in the project are used, falling back
to claude-code.

  --agents claude-code,cursor   Manage Claude Code and Cursor`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveTargetDir(cmd)
		if err != nil {
			return err
		}

		cm := core.NewConfigManager(dir)
		cfg, err := cm.Load()
		if err != nil {
			return err
		}

		agentsFlag, _ := cmd.Flags().GetString("agents")
		if agentsFlag != "" {
			names := splitNames(agentsFlag)
			if _, err := system.ByNames(names); err != nil {
				return err
			}
			cfg.Agents = names
		} else if len(cfg.Agents) == 0 {
			cfg.Agents = core.AgentNames(cfg, dir)
		}

		if err := cm.Save(cfg); err != nil {
			return err
		}

		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		rep, err := p.rec.Update()
		if err != nil {
			return err
		}

		if wantJSON(cmd) {
			return writeJSON(rep)
		}
		fmt.Fprintf(os.Stdout, "Initialized extkit for %s\n", joinStrings(cfg.Agents))
		fmt.Fprintf(os.Stdout, "Base skills: %d on %d agents\n", len(p.rec.Catalog().IDs()), len(p.rec.Targets()))
		if rep.Degraded() {
			renderReport(os.Stdout, rep)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("agents", "", "Comma-separated agent names (e.g. claude-code,cursor)")
}
