package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/barysiuk/extkit/internal/core/manifest"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

// readmeWidth is the word-wrap width used when rendering a README.
const readmeWidth = 80

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show details of an installed extension",
	Long: `Show the record of an installed extension followed by its README.md,
or a summary of its manifest when it ships no README.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject(cmd)
		if err != nil {
			return err
		}
		state, err := p.rec.Store().Load()
		if err != nil {
			return err
		}
		rec := state.Find(args[0])
		if rec == nil {
			return fmt.Errorf("%s: %w", args[0], core.ErrNotInstalled)
		}
		if wantJSON(cmd) {
			return writeJSON(rec)
		}

		fmt.Fprintln(os.Stdout, titleStyle.Render(rec.Name+" "+rec.Version))
		fmt.Fprintf(os.Stdout, "Source:    %s\n", rec.Source)
		fmt.Fprintf(os.Stdout, "Installed: %s\n", rec.InstalledAt.Format("2006-01-02 15:04:05"))
		if rec.Checksum != "" {
			fmt.Fprintf(os.Stdout, "Checksum:  %s\n", rec.Checksum)
		}
		fmt.Fprintln(os.Stdout)

		dir := p.rec.Storage().Dir(rec.Name)
		readme, err := os.ReadFile(filepath.Join(dir, "README.md"))
		switch {
		case err == nil:
			out, rerr := renderMarkdown(string(readme))
			if rerr != nil {
				return rerr
			}
			fmt.Fprint(os.Stdout, out)
			return nil
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("reading README: %w", err)
		}

		m, err := p.rec.Storage().Manifest(rec.Name)
		if err != nil {
			fmt.Fprintln(os.Stdout, warningStyle.Render(err.Error()))
			return nil
		}
		fmt.Fprint(os.Stdout, manifestSummary(m))
		return nil
	},
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(readmeWidth),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

// manifestSummary lists what the extension declares.
func manifestSummary(m *manifest.Manifest) string {
	var b strings.Builder
	if m.Description != "" {
		b.WriteString(m.Description + "\n\n")
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(mutedStyle.Render(title) + "\n")
		for _, it := range items {
			b.WriteString("  " + it + "\n")
		}
	}

	var replaces []string
	for _, r := range m.ReplacementList() {
		replaces = append(replaces, r.BaseID+" <- "+r.Path)
	}
	section("Replaces", replaces)
	section("Skills", m.CustomBehaviors())

	var injections []string
	for _, inj := range m.Injections {
		injections = append(injections, fmt.Sprintf("%s (%s) <- %s", inj.Target, inj.Position, inj.File))
	}
	section("Injections", injections)

	var servers []string
	for _, sc := range m.ServerConfigs {
		line := sc.Key
		if sc.Instruction != "" {
			line += ": " + sc.Instruction
		}
		servers = append(servers, line)
	}
	section("Server configs", servers)

	var cmds []string
	for _, c := range m.Commands {
		line := c.Name
		if c.Description != "" {
			line += ": " + c.Description
		}
		cmds = append(cmds, line)
	}
	section("Commands", cmds)
	return b.String()
}

func init() {
	rootCmd.AddCommand(showCmd)
}
