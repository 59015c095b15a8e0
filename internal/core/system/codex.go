package system

// Codex implements the System interface for the Codex CLI.
type Codex struct {
	BaseSystem
}

// NewCodex creates a configured Codex system.
func NewCodex() *Codex {
	return &Codex{BaseSystem{
		name:          "codex",
		displayName:   "Codex",
		skillsDir:     ".agents/skills",
		detectPaths:   []string{"$CODEX_HOME", "/etc/codex"},
		configSignals: []string{"AGENTS.md", "codex.md"},
	}}
}

// Codex is skills-only and reads the shared .agents/skills directory.

func init() { Register(NewCodex()) }
