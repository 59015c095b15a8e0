package system

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// ErrServerConfigUnsupported is returned when a server config entry is merged
// into a system that has no settings file for them.
var ErrServerConfigUnsupported = errors.New("server configuration not supported")

// BaseSystem provides default implementations for common system patterns.
// Individual systems embed this and override methods as needed.
type BaseSystem struct {
	name          string
	displayName   string
	skillsDir     string   // project-relative skill directory
	detectPaths   []string // files/dirs to check for global installation
	configSignals []string // project files indicating active use

	// Server config settings file (for systems that support it)
	serverConfigPath    string // project-relative settings file
	serverConfigPathAlt string // alternative settings file checked first
	serverConfigKey     string // JSON key holding the entries (e.g., "mcpServers")
	serverConfigFormat  string // "jsonc" or "" (strict JSON)
}

func (b *BaseSystem) Name() string        { return b.name }
func (b *BaseSystem) DisplayName() string { return b.displayName }
func (b *BaseSystem) SkillsDir() string   { return b.skillsDir }

func (b *BaseSystem) IsInstalled() bool {
	for _, p := range b.detectPaths {
		if dirExists(expandPath(p)) {
			return true
		}
	}
	return false
}

func (b *BaseSystem) IsActiveInFolder(folderPath string) bool {
	for _, sig := range b.configSignals {
		if pathExists(filepath.Join(folderPath, sig)) {
			return true
		}
	}
	// An existing skills directory also counts (extkit-managed presence).
	return dirExists(filepath.Join(folderPath, b.skillsDir))
}

func (b *BaseSystem) DetectionSignals() []string {
	return b.configSignals
}

// SupportsServerConfig reports whether the system has a settings file.
func (b *BaseSystem) SupportsServerConfig() bool { return b.serverConfigPath != "" }

// ServerConfigPath resolves the full path to the settings file,
// checking the alternative path first.
func (b *BaseSystem) ServerConfigPath(projectDir string) string {
	if b.serverConfigPath == "" {
		return ""
	}
	if b.serverConfigPathAlt != "" {
		altPath := filepath.Join(projectDir, b.serverConfigPathAlt)
		if _, err := os.Stat(altPath); err == nil {
			return altPath
		}
	}
	return filepath.Join(projectDir, b.serverConfigPath)
}

// MergeServerConfig adds or replaces the entry named key. The template is a
// JSON (or JSONC) object and is written unchanged under the system's key.
func (b *BaseSystem) MergeServerConfig(projectDir, key string, template []byte) error {
	entry, err := parseTemplate(template)
	if err != nil {
		return err
	}
	return b.mergeEntry(projectDir, key, entry)
}

// RemoveServerConfig removes the entry named key. A missing settings file or
// entry is not an error.
func (b *BaseSystem) RemoveServerConfig(projectDir, key string) error {
	if b.serverConfigPath == "" {
		return nil
	}

	configPath := b.ServerConfigPath(projectDir)
	content, err := readConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if content == "" {
		return nil // no config file
	}

	root, err := parseJSONC(content)
	if err != nil {
		return err
	}

	entryPtr := "/" + jsonPointerEscape(b.serverConfigKey) + "/" + jsonPointerEscape(key)
	if root.Find(entryPtr) == nil {
		return nil // entry not found
	}

	patch := fmt.Sprintf(`[{"op":"remove","path":%q}]`, entryPtr)
	if err := root.Patch([]byte(patch)); err != nil {
		return fmt.Errorf("removing server config %q: %w", key, err)
	}

	return writeConfigFile(configPath, string(b.finalizeConfig(root)))
}

// mergeEntry writes entry under key into the settings file, preserving
// comments and formatting of everything else.
func (b *BaseSystem) mergeEntry(projectDir, key string, entry map[string]any) error {
	if b.serverConfigPath == "" {
		return fmt.Errorf("%s: %w", b.displayName, ErrServerConfigUnsupported)
	}

	configPath := b.ServerConfigPath(projectDir)
	content, err := readConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if content == "" {
		content = "{}"
	}

	root, err := parseJSONC(content)
	if err != nil {
		return err
	}

	value, err := json.MarshalIndent(entry, "\t\t", "\t")
	if err != nil {
		return fmt.Errorf("encoding server config %q: %w", key, err)
	}

	entryPtr := "/" + jsonPointerEscape(b.serverConfigKey) + "/" + jsonPointerEscape(key)
	return b.patchAndWrite(root, entryPtr, string(value), configPath)
}

// patchAndWrite ensures the top-level key exists, applies an add/replace
// patch for entryPtr and writes the result.
func (b *BaseSystem) patchAndWrite(root *hujson.Value, entryPtr, valueJSON, configPath string) error {
	op := "add"
	if root.Find(entryPtr) != nil {
		op = "replace"
	}

	topKeyPtr := "/" + jsonPointerEscape(b.serverConfigKey)
	if root.Find(topKeyPtr) == nil {
		topKeyPatch := fmt.Sprintf(`[{"op":"add","path":%q,"value":{}}]`, topKeyPtr)
		if err := root.Patch([]byte(topKeyPatch)); err != nil {
			return fmt.Errorf("creating config key %q: %w", b.serverConfigKey, err)
		}
	}

	patch := fmt.Sprintf(`[{"op":%q,"path":%q,"value":%s}]`, op, entryPtr, valueJSON)
	if err := root.Patch([]byte(patch)); err != nil {
		return fmt.Errorf("writing server config entry: %w", err)
	}

	return writeConfigFile(configPath, string(b.finalizeConfig(root)))
}

// finalizeConfig formats the JSONC AST and produces final output bytes.
func (b *BaseSystem) finalizeConfig(root *hujson.Value) []byte {
	root.Format()
	removeTrailingCommas(root)

	if b.serverConfigFormat != "jsonc" {
		root.Standardize()
	}

	return root.Pack()
}

// --- Shared Helpers ---

// parseTemplate decodes a server config template into a JSON object.
func parseTemplate(template []byte) (map[string]any, error) {
	std, err := hujson.Standardize(template)
	if err != nil {
		return nil, fmt.Errorf("parsing server config template: %w", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(std, &entry); err != nil {
		return nil, fmt.Errorf("server config template must be a JSON object: %w", err)
	}
	if entry == nil {
		return nil, errors.New("server config template must be a JSON object")
	}
	return entry, nil
}

// expandPath expands ~ to home directory and $VAR / $XDG_CONFIG to env values.
func expandPath(p string) string {
	if strings.Contains(p, "$XDG_CONFIG") {
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig == "" {
			home, _ := os.UserHomeDir()
			xdgConfig = filepath.Join(home, ".config")
		}
		p = strings.ReplaceAll(p, "$XDG_CONFIG", xdgConfig)
	}

	if strings.Contains(p, "$") {
		p = os.Expand(p, os.Getenv)
	}

	if strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		p = filepath.Join(home, p[2:])
	} else if p == "~" {
		home, _ := os.UserHomeDir()
		p = home
	}

	return p
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// readConfigFile reads a config file. Returns empty string if not found.
func readConfigFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// writeConfigFile writes content atomically, creating parent directories.
func writeConfigFile(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// jsonPointerEscape escapes a string for use as a JSON Pointer token (RFC 6901).
func jsonPointerEscape(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

// removeTrailingCommas walks the JSONC AST and removes trailing commas.
func removeTrailingCommas(v *hujson.Value) {
	switch vv := v.Value.(type) {
	case *hujson.Object:
		for i := range vv.Members {
			removeTrailingCommas(&vv.Members[i].Name)
			removeTrailingCommas(&vv.Members[i].Value)
		}
		if len(vv.Members) > 0 {
			vv.Members[len(vv.Members)-1].Value.AfterExtra = nil
		}
	case *hujson.Array:
		for i := range vv.Elements {
			removeTrailingCommas(&vv.Elements[i])
		}
		if len(vv.Elements) > 0 {
			vv.Elements[len(vv.Elements)-1].AfterExtra = nil
		}
	}
}

// parseJSONC parses a JSONC string into a hujson.Value.
func parseJSONC(content string) (*hujson.Value, error) {
	root, err := hujson.Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &root, nil
}
