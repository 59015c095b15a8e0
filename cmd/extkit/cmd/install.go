package cmd

import (
	"fmt"
	"os"

	"github.com/barysiuk/extkit/internal/core/source"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install or reinstall an extension",
	Long: `Install an extension from a local directory, archive, tarball URL or
git repository.

Sources can be:
  ./local/dir                        Local directory
  ./ext.tar.gz                       Local archive
  https://host/ext.tar.gz            Tarball download
  owner/repo[/path][#ref]            GitHub shorthand
  https://host/owner/repo.git#ref    Git repository
  git@host:owner/repo.git            SSH clone URL

Installing an extension that is already installed replaces it. Nothing
is changed when the source cannot be resolved or conflicts with another
installed extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		rep, err := p.rec.Install(cmd.Context(), args[0])
		if re, ok := source.IsResolutionError(err); ok {
			for _, h := range re.Hints {
				fmt.Fprintln(os.Stderr, mutedStyle.Render("hint: "+h))
			}
		}
		return printReport(cmd, rep, err)
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
