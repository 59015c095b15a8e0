package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloJSON = `{
  "name": "hello-commit",
  "version": "1.2.0",
  "description": "Signed commits",
  "agents": ["claude-code", "cursor"],
  "skills": ["skills/my-commit", "skills/greet"],
  "replaces": {"skills/my-commit": "aif-commit"},
  "injections": [
    {"target": "aif-plan", "position": "append", "file": "inject/plan.md"}
  ],
  "serverConfigs": [
    {"key": "hello-db", "template": "mcp/db.json", "instruction": "Set DATABASE_URL"}
  ],
  "commands": [
    {"name": "greet", "description": "Say hello", "script": "echo hello"}
  ]
}`

const helloYAML = `name: hello-commit
version: 1.2.0
description: Signed commits
agents: [claude-code, cursor]
skills:
  - skills/my-commit
  - skills/greet
replaces:
  skills/my-commit: aif-commit
injections:
  - target: aif-plan
    position: append
    file: inject/plan.md
serverConfigs:
  - key: hello-db
    template: mcp/db.json
    instruction: Set DATABASE_URL
commands:
  - name: greet
    description: Say hello
    script: echo hello
`

const helloTOML = `name = "hello-commit"
version = "1.2.0"
description = "Signed commits"
agents = ["claude-code", "cursor"]
skills = ["skills/my-commit", "skills/greet"]

[replaces]
"skills/my-commit" = "aif-commit"

[[injections]]
target = "aif-plan"
position = "append"
file = "inject/plan.md"

[[serverConfigs]]
key = "hello-db"
template = "mcp/db.json"
instruction = "Set DATABASE_URL"

[[commands]]
name = "greet"
description = "Say hello"
script = "echo hello"
`

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_AllFormats(t *testing.T) {
	formats := map[string]string{
		"extension.json": helloJSON,
		"extension.yaml": helloYAML,
		"extension.yml":  helloYAML,
		"extension.toml": helloTOML,
	}

	var first *Manifest
	for file, content := range formats {
		t.Run(file, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, file, content)

			m, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, "hello-commit", m.Name)
			assert.Equal(t, "1.2.0", m.Version)
			assert.Equal(t, map[string]string{"skills/my-commit": "aif-commit"}, m.Replaces)
			require.Len(t, m.Injections, 1)
			assert.Equal(t, Injection{Target: "aif-plan", Position: "append", File: "inject/plan.md"}, m.Injections[0])
			require.Len(t, m.ServerConfigs, 1)
			assert.Equal(t, "hello-db", m.ServerConfigs[0].Key)

			if first == nil {
				first = m
			} else {
				assert.Equal(t, first, m)
			}
		})
	}
}

func TestFind_LookupOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "extension.toml", helloTOML)
	writeManifest(t, dir, "extension.yaml", helloYAML)

	p, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, "extension.yaml", filepath.Base(p))

	writeManifest(t, dir, "extension.json", helloJSON)
	p, err = Find(dir)
	require.NoError(t, err)
	assert.Equal(t, "extension.json", filepath.Base(p))
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", `{"name": "x"}`},
		{"bad position", `{"name": "x", "version": "1", "injections": [{"target": "a", "position": "middle", "file": "f.md"}]}`},
		{"bad name characters", `{"name": "hello world", "version": "1"}`},
		{"wrong type", `{"name": "x", "version": "1", "skills": "one"}`},
		{"command without script", `{"name": "x", "version": "1", "commands": [{"name": "c"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("extension.json", []byte(tt.doc))
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %T: %v", err, err)
		})
	}
}

func TestParse_SyntaxAndFormatErrors(t *testing.T) {
	_, err := Parse("extension.json", []byte(`{"name": `))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))

	_, err = Parse("extension.ini", []byte(`name=x`))
	assert.ErrorContains(t, err, "unsupported manifest format")
}

func TestValidate(t *testing.T) {
	base := func() *Manifest {
		return &Manifest{Name: "ok", Version: "1.0.0"}
	}

	tests := []struct {
		name   string
		mutate func(m *Manifest)
		issue  string
	}{
		{"dotdot name", func(m *Manifest) { m.Name = "a/../b" }, `must not contain ".."`},
		{"absolute name", func(m *Manifest) { m.Name = "/abs" }, "must not be absolute"},
		{"empty segment", func(m *Manifest) { m.Name = "a//b" }, "segments"},
		{"escaping file", func(m *Manifest) {
			m.Injections = []Injection{{Target: "t", Position: "append", File: "../secret"}}
		}, `must not contain ".."`},
		{"escaping target", func(m *Manifest) {
			m.Injections = []Injection{{Target: "../../docs", Position: "append", File: "a.md"}}
		}, "must not start with a dot"},
		{"nested target", func(m *Manifest) {
			m.Injections = []Injection{{Target: "aif/../../x", Position: "append", File: "a.md"}}
		}, "path separators"},
		{"empty target", func(m *Manifest) {
			m.Injections = []Injection{{Target: "", Position: "append", File: "a.md"}}
		}, "behavior id is empty"},
		{"escaping base id", func(m *Manifest) {
			m.Replaces = map[string]string{"skills/x": "../aif"}
		}, "must not start with a dot"},
		{"dot name", func(m *Manifest) { m.Name = ".stage-x" }, "must not start with ."},
		{"absolute skill", func(m *Manifest) { m.Behaviors = []string{"/etc/skill"} }, "must be relative"},
		{"duplicate slot", func(m *Manifest) {
			m.Injections = []Injection{
				{Target: "t", Position: "append", File: "a.md"},
				{Target: "t", Position: "append", File: "b.md"},
			}
		}, "duplicate injection"},
		{"same base twice", func(m *Manifest) {
			m.Replaces = map[string]string{"a": "aif", "b": "aif"}
		}, "both replace aif"},
		{"duplicate server key", func(m *Manifest) {
			m.ServerConfigs = []ServerConfig{{Key: "k", Template: "a.json"}, {Key: "k", Template: "b.json"}}
		}, "duplicate key"},
		{"duplicate command", func(m *Manifest) {
			m.Commands = []Command{{Name: "c", Script: "true"}, {Name: "c", Script: "false"}}
		}, "duplicate command"},
	}

	require.NoError(t, Validate(base()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			err := Validate(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.issue)
		})
	}
}

func TestValidName(t *testing.T) {
	for _, ok := range []string{"hello", "hello-commit", "@acme/hello", "a.b_c"} {
		assert.NoError(t, ValidName(ok), ok)
	}
	for _, bad := range []string{"", "..", "a..b", "/x", "x/", "a b", "a\\b", ".prev-1", ".hidden/x"} {
		assert.Error(t, ValidName(bad), bad)
	}
}

func TestReplacementsAndCustomBehaviors(t *testing.T) {
	m := &Manifest{
		Behaviors: []string{"skills/my-commit", "skills/greet", "./skills/plan"},
		Replaces: map[string]string{
			"skills/my-commit": "aif-commit",
			"skills/plan":      "aif-plan",
		},
	}

	assert.Equal(t, []string{"skills/greet"}, m.CustomBehaviors())
	assert.Equal(t, []Replacement{
		{Path: "skills/my-commit", BaseID: "aif-commit"},
		{Path: "skills/plan", BaseID: "aif-plan"},
	}, m.ReplacementList())
	assert.Equal(t, map[string]bool{"aif-commit": true, "aif-plan": true}, m.ReplacedIDs())
}

func TestSupportsAgent(t *testing.T) {
	assert.True(t, (&Manifest{}).SupportsAgent("cursor"))

	m := &Manifest{Agents: []string{"claude-code"}}
	assert.True(t, m.SupportsAgent("claude-code"))
	assert.False(t, m.SupportsAgent("cursor"))
}

func TestBehaviorID(t *testing.T) {
	dir := t.TempDir()
	named := filepath.Join(dir, "skills", "greet")
	require.NoError(t, os.MkdirAll(named, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(named, "SKILL.md"), []byte("---\nname: hello-greet\n---\n"), 0o644))

	plain := filepath.Join(dir, "skills", "plain")
	require.NoError(t, os.MkdirAll(plain, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plain, "SKILL.md"), []byte("# no header\n"), 0o644))

	assert.Equal(t, "hello-greet", BehaviorID(dir, "skills/greet"))
	assert.Equal(t, "plain", BehaviorID(dir, "skills/plain"))
	assert.Equal(t, "missing", BehaviorID(dir, "skills/missing/"))
}
