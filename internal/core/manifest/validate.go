package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/barysiuk/extkit/internal/core/skill"
)

//go:embed schema/extension.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.@/-]+$`)

// ValidationError lists every problem found in a manifest.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid manifest: " + e.Issues[0]
	}
	return "invalid manifest:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("extension.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("extension.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Parse decodes a manifest document. The format is chosen from the file
// name extension (.json, .yaml/.yml or .toml). The document is checked
// against the schema and then by Validate.
func Parse(fileName string, data []byte) (*Manifest, error) {
	var (
		raw any
		m   Manifest
	)
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		if err := validateSchema(raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &ValidationError{Issues: []string{err.Error()}}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		if err := validateSchema(raw); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &ValidationError{Issues: []string{err.Error()}}
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
		if err := validateSchema(raw); err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, &ValidationError{Issues: []string{err.Error()}}
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// validateSchema checks a decoded document against the embedded schema.
func validateSchema(raw any) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return &ValidationError{Issues: []string{fmt.Sprintf("not representable as JSON: %v", err)}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("preparing JSON for validation: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("unexpected validation error type: %w", err)
	}
	var issues []string
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = []string{ve.Error()}
	}
	return &ValidationError{Issues: issues}
}

// collectIssues walks the error tree and records leaf errors as
// "/instance/path: message".
func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(ve.Causes) == 0 {
		if ve.ErrorKind == nil {
			return
		}
		issue := "/" + strings.Join(ve.InstanceLocation, "/") + ": " + ve.ErrorKind.LocalizedString(printer)
		for _, seen := range *issues {
			if seen == issue {
				return
			}
		}
		*issues = append(*issues, issue)
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}

// Validate applies the rules the schema cannot express: name and path
// safety and uniqueness of injection slots, replaced ids and keys.
func Validate(m *Manifest) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if msg := nameError(m.Name); msg != "" {
		add("name %q %s", m.Name, msg)
	}
	if m.Version == "" {
		add("version is required")
	}

	slots := make(map[string]bool)
	for i, inj := range m.Injections {
		if inj.Position != "append" && inj.Position != "prepend" {
			add("injections[%d]: position %q must be append or prepend", i, inj.Position)
		}
		if err := skill.ValidID(inj.Target); err != nil {
			add("injections[%d]: target: %v", i, err)
		}
		if msg := relPathError(inj.File); msg != "" {
			add("injections[%d]: file %q %s", i, inj.File, msg)
		}
		slot := inj.Target + "\x00" + inj.Position
		if slots[slot] {
			add("injections[%d]: duplicate injection for %s (%s)", i, inj.Target, inj.Position)
		}
		slots[slot] = true
	}

	for _, p := range m.Behaviors {
		if msg := relPathError(p); msg != "" {
			add("skills: path %q %s", p, msg)
		}
	}

	owners := make(map[string]string)
	for _, r := range m.ReplacementList() {
		if msg := relPathError(r.Path); msg != "" {
			add("replaces: path %q %s", r.Path, msg)
		}
		if err := skill.ValidID(r.BaseID); err != nil {
			add("replaces: path %q: %v", r.Path, err)
		}
		if prev, ok := owners[r.BaseID]; ok {
			add("replaces: %q and %q both replace %s", prev, r.Path, r.BaseID)
		}
		owners[r.BaseID] = r.Path
	}

	keys := make(map[string]bool)
	for i, sc := range m.ServerConfigs {
		if msg := relPathError(sc.Template); msg != "" {
			add("serverConfigs[%d]: template %q %s", i, sc.Template, msg)
		}
		if keys[sc.Key] {
			add("serverConfigs[%d]: duplicate key %q", i, sc.Key)
		}
		keys[sc.Key] = true
	}

	cmds := make(map[string]bool)
	for i, c := range m.Commands {
		if cmds[c.Name] {
			add("commands[%d]: duplicate command %q", i, c.Name)
		}
		cmds[c.Name] = true
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidName reports whether name is an acceptable extension name.
func ValidName(name string) error {
	if msg := nameError(name); msg != "" {
		return fmt.Errorf("extension name %q %s", name, msg)
	}
	return nil
}

func nameError(name string) string {
	switch {
	case name == "":
		return "is empty"
	case !namePattern.MatchString(name):
		return "may only contain letters, digits and _ - . @ /"
	case strings.HasPrefix(name, "/"):
		return "must not be absolute"
	case strings.HasPrefix(name, "."):
		return "must not start with ."
	case strings.Contains(name, ".."):
		return `must not contain ".."`
	case strings.HasSuffix(name, "/"):
		return "must not end with /"
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "must not contain empty, . or .. segments"
		}
	}
	return ""
}
