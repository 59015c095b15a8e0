package system

// Cursor implements the System interface for the Cursor editor.
type Cursor struct {
	BaseSystem
}

// NewCursor creates a configured Cursor system.
func NewCursor() *Cursor {
	return &Cursor{BaseSystem{
		name:               "cursor",
		displayName:        "Cursor",
		skillsDir:          ".cursor/skills",
		detectPaths:        []string{"~/.cursor"},
		configSignals:      []string{".cursor"},
		serverConfigPath:   ".cursor/mcp.json",
		serverConfigKey:    "mcpServers",
		serverConfigFormat: "jsonc",
	}}
}

func init() { Register(NewCursor()) }
