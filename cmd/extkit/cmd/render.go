package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/barysiuk/extkit/internal/core"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
)

// Color palette.
var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorDanger  = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray
	colorWarning = lipgloss.Color("#F59E0B") // Amber
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	okStyle      = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorDanger)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

// maxDetailWidth bounds the detail column of a step line.
const maxDetailWidth = 96

var operationVerbs = map[string]string{
	"install": "Installed",
	"update":  "Updated",
	"remove":  "Removed",
}

// renderReport writes a human readable account of an operation.
func renderReport(w io.Writer, rep *core.Report) {
	verb := operationVerbs[rep.Operation]
	if verb == "" {
		verb = rep.Operation
	}

	header := verb
	if rep.Extension != "" {
		header += " " + rep.Extension
	}
	if rep.Version != "" {
		header += " " + rep.Version
	}
	switch rep.Change {
	case "", core.ChangeNew:
	case core.ChangeReinstall:
		header += " (reinstall)"
	default:
		header += fmt.Sprintf(" (%s from %s)", rep.Change, rep.PreviousVersion)
	}
	fmt.Fprintln(w, titleStyle.Render(header))

	for _, s := range rep.Steps {
		fmt.Fprintln(w, "  "+renderStep(s))
	}

	for _, p := range rep.Partial {
		fmt.Fprintln(w, warningStyle.Render("  partial: "+p.Error()))
	}
	if rep.Degraded() {
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf(
			"Completed with %d failed and %d rolled-back steps",
			rep.Count(core.StatusFailed), rep.Count(core.StatusRolledBack))))
	}
}

func renderStep(s core.Step) string {
	var icon string
	switch s.Status {
	case core.StatusOK:
		icon = okStyle.Render("✓")
	case core.StatusFailed:
		icon = errorStyle.Render("✗")
	case core.StatusRolledBack:
		icon = warningStyle.Render("↺")
	case core.StatusWarning:
		icon = warningStyle.Render("!")
	default:
		icon = mutedStyle.Render("-")
	}

	parts := []string{icon, string(s.Phase)}
	if s.Agent != "" {
		parts = append(parts, s.Agent)
	}
	parts = append(parts, s.Subject)
	line := strings.Join(parts, " ")
	if s.Detail != "" {
		line += mutedStyle.Render(": " + ansi.Truncate(s.Detail, maxDetailWidth, "…"))
	}
	return line
}

// renderTable writes rows as left-aligned columns. Cells wider than
// maxCell are truncated.
func renderTable(w io.Writer, header []string, rows [][]string, maxCell int) {
	widths := make([]int, len(header))
	cells := make([][]string, 0, len(rows)+1)
	cells = append(cells, header)
	for _, row := range rows {
		out := make([]string, len(row))
		for i, c := range row {
			out[i] = ansi.Truncate(c, maxCell, "…")
		}
		cells = append(cells, out)
	}
	for _, row := range cells {
		for i, c := range row {
			widths[i] = max(widths[i], ansi.StringWidth(c))
		}
	}

	for n, row := range cells {
		var b strings.Builder
		for i, c := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(c)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(c)))
			}
		}
		line := b.String()
		if n == 0 {
			line = mutedStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

// printReport writes rep in the selected format and passes err through.
// A failed operation changed nothing worth listing, so only its error is
// shown in text mode.
func printReport(cmd *cobra.Command, rep *core.Report, err error) error {
	if rep == nil {
		return err
	}
	if wantJSON(cmd) {
		if jerr := writeJSON(rep); jerr != nil && err == nil {
			return jerr
		}
		return err
	}
	if err == nil {
		renderReport(os.Stdout, rep)
	}
	return err
}
