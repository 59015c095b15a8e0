package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/barysiuk/extkit/internal/core/command"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <extension> [command] [args...]",
	Short: "Run a command shipped by an extension",
	Long: `Run a command declared in an extension's manifest. Commands run in the
project directory with EXTKIT_EXTENSION and EXTKIT_EXTENSION_DIR set.
Arguments after the command name are passed through as $1, $2, ...

Without a command name the extension's commands are listed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		state, err := p.rec.Store().Load()
		if err != nil {
			return err
		}
		ext := args[0]
		if state.Find(ext) == nil {
			return fmt.Errorf("%s: %w", ext, core.ErrNotInstalled)
		}

		table := command.Load(p.rec.Storage(), []string{ext}, p.log)
		if failures := table.Failures(); len(failures) > 0 {
			return failures[0].Err
		}

		if len(args) == 1 {
			var rows [][]string
			for _, e := range table.Commands(ext) {
				desc := e.Description
				if e.Err != nil {
					desc = errorStyle.Render(e.Err.Error())
				}
				rows = append(rows, []string{e.Name, dash(desc)})
			}
			if len(rows) == 0 {
				fmt.Fprintf(os.Stdout, "%s ships no commands.\n", ext)
				return nil
			}
			renderTable(os.Stdout, []string{"COMMAND", "DESCRIPTION"}, rows, 64)
			return nil
		}

		entry, err := table.Lookup(ext, args[1])
		if err != nil {
			return err
		}
		dir, err := filepath.Abs(p.dir)
		if err != nil {
			return fmt.Errorf("resolving project directory: %w", err)
		}

		err = entry.Run(cmd.Context(), dir, args[2:], command.IO{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
		if code, ok := command.ExitCode(err); ok {
			return &exitError{code: code}
		}
		return err
	},
}

func init() {
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)
}
