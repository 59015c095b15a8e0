package cmd

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the base skills and reapply installed extensions",
	Long: `Reinstall the base skill catalog on every configured agent, then put
each installed extension's replacements and injections back on top.

Run it after upgrading extkit or changing the configured agents.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		rep, err := p.rec.Update()
		return printReport(cmd, rep, err)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
