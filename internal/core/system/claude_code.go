package system

// ClaudeCode implements the System interface for Claude Code.
type ClaudeCode struct {
	BaseSystem
}

// NewClaudeCode creates a configured Claude Code system.
func NewClaudeCode() *ClaudeCode {
	return &ClaudeCode{BaseSystem{
		name:             "claude-code",
		displayName:      "Claude Code",
		skillsDir:        ".claude/skills",
		detectPaths:      []string{"~/.claude"},
		configSignals:    []string{"CLAUDE.md", ".claude", ".mcp.json"},
		serverConfigPath: ".mcp.json",
		serverConfigKey:  "mcpServers",
	}}
}

// Claude Code uses the default BaseSystem behavior: templates are written
// unchanged under "mcpServers" in strict JSON.

func init() { Register(NewClaudeCode()) }
