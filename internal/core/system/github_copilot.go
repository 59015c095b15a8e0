package system

// GitHubCopilot implements the System interface for GitHub Copilot.
type GitHubCopilot struct {
	BaseSystem
}

// NewGitHubCopilot creates a configured GitHub Copilot system.
func NewGitHubCopilot() *GitHubCopilot {
	return &GitHubCopilot{BaseSystem{
		name:               "github-copilot",
		displayName:        "GitHub Copilot",
		skillsDir:          ".github/skills",
		detectPaths:        []string{"~/.copilot"},
		configSignals:      []string{".github/copilot-instructions.md"},
		serverConfigPath:   ".vscode/mcp.json",
		serverConfigKey:    "servers",
		serverConfigFormat: "jsonc",
	}}
}

// MergeServerConfig overrides BaseSystem: VS Code requires an explicit
// transport type on every entry.
func (g *GitHubCopilot) MergeServerConfig(projectDir, key string, template []byte) error {
	entry, err := parseTemplate(template)
	if err != nil {
		return err
	}
	if _, ok := entry["type"]; !ok {
		if _, remote := entry["url"]; remote {
			entry["type"] = "http"
		} else {
			entry["type"] = "stdio"
		}
	}
	return g.mergeEntry(projectDir, key, entry)
}

func init() { Register(NewGitHubCopilot()) }
