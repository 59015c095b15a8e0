package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "EXTKIT"
)

// ConfigManager handles reading and writing the project configuration.
type ConfigManager struct {
	projectDir string
}

// NewConfigManager creates a ConfigManager for the project rooted at projectDir.
func NewConfigManager(projectDir string) *ConfigManager {
	return &ConfigManager{projectDir: projectDir}
}

// ConfigPath returns the full path to the config file.
func (cm *ConfigManager) ConfigPath() string {
	return filepath.Join(cm.projectDir, StateDirName, configFileName+"."+configFileType)
}

// Load reads the config file and EXTKIT_* environment overrides
// (EXTKIT_AGENTS, EXTKIT_BASE_SKILLS_DIR). A missing file yields defaults.
func (cm *ConfigManager) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(cm.ConfigPath())
	v.SetConfigType(configFileType)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv("agents", envPrefix+"_AGENTS")
	_ = v.BindEnv("baseSkillsDir", envPrefix+"_BASE_SKILLS_DIR")

	if _, err := os.Stat(cm.ConfigPath()); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		Agents:        splitList(v.GetStringSlice("agents")),
		BaseSkillsDir: v.GetString("baseSkillsDir"),
	}
	if cfg.BaseSkillsDir != "" && !filepath.IsAbs(cfg.BaseSkillsDir) {
		cfg.BaseSkillsDir = filepath.Join(cm.projectDir, cfg.BaseSkillsDir)
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (cm *ConfigManager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(cm.ConfigPath()), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return writeFileAtomic(cm.ConfigPath(), data)
}

// splitList flattens comma separated entries, as produced by
// EXTKIT_AGENTS=claude-code,cursor.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
