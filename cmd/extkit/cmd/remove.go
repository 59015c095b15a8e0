package cmd

import (
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"uninstall"},
	Short:   "Remove an installed extension",
	Long: `Remove an extension and undo everything it changed: its injections,
replaced skills (the base versions are restored), custom skills, server
configs and its stored copy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		rep, err := p.rec.Remove(args[0])
		return printReport(cmd, rep, err)
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
