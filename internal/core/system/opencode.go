package system

// OpenCode implements the System interface for the OpenCode AI coding tool.
type OpenCode struct {
	BaseSystem
}

// NewOpenCode creates a configured OpenCode system.
func NewOpenCode() *OpenCode {
	return &OpenCode{BaseSystem{
		name:                "opencode",
		displayName:         "OpenCode",
		skillsDir:           ".opencode/skills",
		detectPaths:         []string{"$XDG_CONFIG/opencode"},
		configSignals:       []string{"opencode.json", "opencode.jsonc"},
		serverConfigPath:    "opencode.json",
		serverConfigPathAlt: "opencode.jsonc",
		serverConfigKey:     "mcp",
		serverConfigFormat:  "jsonc",
	}}
}

// MergeServerConfig overrides BaseSystem to produce the OpenCode entry shape:
// local servers carry the command line as a single array.
func (o *OpenCode) MergeServerConfig(projectDir, key string, template []byte) error {
	entry, err := parseTemplate(template)
	if err != nil {
		return err
	}
	return o.mergeEntry(projectDir, key, openCodeEntry(entry))
}

func openCodeEntry(entry map[string]any) map[string]any {
	if url, ok := entry["url"]; ok {
		return map[string]any{"type": "remote", "url": url}
	}

	command, ok := entry["command"].(string)
	if !ok {
		return entry
	}
	cmdArray := []any{command}
	if args, ok := entry["args"].([]any); ok {
		cmdArray = append(cmdArray, args...)
	}
	out := map[string]any{
		"type":    "local",
		"command": cmdArray,
	}
	if env, ok := entry["env"]; ok {
		out["environment"] = env
	}
	return out
}

func init() { Register(NewOpenCode()) }
