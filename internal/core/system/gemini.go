package system

// GeminiCLI implements the System interface for the Gemini CLI.
type GeminiCLI struct {
	BaseSystem
}

// NewGeminiCLI creates a configured Gemini CLI system.
func NewGeminiCLI() *GeminiCLI {
	return &GeminiCLI{BaseSystem{
		name:          "gemini-cli",
		displayName:   "Gemini CLI",
		skillsDir:     ".agents/skills",
		detectPaths:   []string{"~/.gemini"},
		configSignals: []string{"GEMINI.md"},
	}}
}

// Gemini CLI shares .agents/skills with Codex; Targets collapses the two.

func init() { Register(NewGeminiCLI()) }
