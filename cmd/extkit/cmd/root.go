package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// validFormats are the accepted values of --format.
var validFormats = []string{"text", "json"}

var rootCmd = &cobra.Command{
	Use:   "extkit",
	Short: "Manage project-local extensions for AI agent skills",
	Long: `extkit installs extensions into a project and keeps the agent skill
trees of that project consistent with them.

An extension can replace base skills, add its own skills, inject text
into existing skills, merge MCP server entries and ship small commands.
Everything it changes is undone when it is removed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if !isValidFormat(format) {
			return fmt.Errorf("invalid format %q: must be one of %v", format, validFormats)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("extkit %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("dir", "d", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log every step to stderr")
	rootCmd.PersistentFlags().String("format", "text", "Output format (text|json)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// exitError carries the exit status of a command plugin.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// newLogger builds the stderr logger. Warnings are always shown; steps
// and progress only with --verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
