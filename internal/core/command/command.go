// Package command loads the shell commands extensions contribute and runs
// them with an embedded POSIX shell interpreter.
//
// Loading is best effort: every extension and every command is parsed on its
// own, and a failure is recorded on that entry only.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/barysiuk/extkit/internal/core/manifest"
)

// ErrUnknownCommand is returned by Lookup for a name no extension provides.
var ErrUnknownCommand = errors.New("unknown command")

// Entry is one command of one extension.
type Entry struct {
	Extension   string
	Name        string
	Description string
	Dir         string // durable directory of the extension
	Err         error  // parse failure; the entry cannot run when set

	prog *syntax.File
}

// Failure records an extension whose commands could not be loaded at all.
type Failure struct {
	Extension string
	Err       error
}

// Table holds the commands of all installed extensions, keyed by extension
// name.
type Table struct {
	entries  map[string][]*Entry
	failures []Failure
}

// Locator maps an extension name to the directory of its durable copy.
type Locator interface {
	Dir(name string) string
}

// Load builds a Table from the durable copies of the named extensions.
func Load(storage Locator, names []string, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{entries: make(map[string][]*Entry)}

	for _, name := range names {
		dir := storage.Dir(name)
		m, err := manifest.Load(dir)
		if err != nil {
			log.Warn("skipping extension commands", "extension", name, "error", err)
			t.failures = append(t.failures, Failure{Extension: name, Err: err})
			continue
		}
		for _, c := range m.Commands {
			e := &Entry{Extension: name, Name: c.Name, Description: c.Description, Dir: dir}
			e.prog, e.Err = parse(name, c)
			if e.Err != nil {
				log.Warn("skipping extension command", "extension", name, "command", c.Name, "error", e.Err)
			}
			t.entries[name] = append(t.entries[name], e)
		}
	}
	return t
}

// parse turns a command script into a shell program. A panic in the parser
// is confined to the entry.
func parse(ext string, c manifest.Command) (prog *syntax.File, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing %s: %v", c.Name, r)
		}
	}()
	if strings.TrimSpace(c.Script) == "" {
		return nil, fmt.Errorf("command %s has an empty script", c.Name)
	}
	prog, err = syntax.NewParser().Parse(strings.NewReader(c.Script), ext+"/"+c.Name)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.Name, err)
	}
	return prog, nil
}

// Extensions returns the names of extensions with at least one command.
func (t *Table) Extensions() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commands returns the entries of one extension in manifest order.
func (t *Table) Commands(ext string) []*Entry {
	return t.entries[ext]
}

// Failures returns the extensions whose manifests could not be loaded.
func (t *Table) Failures() []Failure {
	return t.failures
}

// Lookup returns the command name of extension ext.
func (t *Table) Lookup(ext, name string) (*Entry, error) {
	for _, e := range t.entries[ext] {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w %q for extension %s", ErrUnknownCommand, name, ext)
}

// IO carries the standard streams of a command run.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the entry in dir with args as positional parameters. The
// extension's directory and name are exported as EXTKIT_EXTENSION_DIR and
// EXTKIT_EXTENSION. A non-zero exit is returned as interp.ExitStatus.
func (e *Entry) Run(ctx context.Context, dir string, args []string, stdio IO) error {
	if e.Err != nil {
		return e.Err
	}

	env := append(os.Environ(),
		"EXTKIT_EXTENSION="+e.Extension,
		"EXTKIT_EXTENSION_DIR="+e.Dir,
	)
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(stdio.Stdin, stdio.Stdout, stdio.Stderr),
		interp.Params(append([]string{"--"}, args...)...),
	)
	if err != nil {
		return fmt.Errorf("creating shell runner: %w", err)
	}
	return runner.Run(ctx, e.prog)
}

// ExitCode extracts the shell exit status from a Run error.
func ExitCode(err error) (int, bool) {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status), true
	}
	return 0, false
}
