package skill

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of a SKILL.md file.
type Frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	License     string `yaml:"license,omitempty"`
	Metadata    struct {
		Author  string `yaml:"author,omitempty"`
		Version string `yaml:"version,omitempty"`
	} `yaml:"metadata,omitempty"`
}

// ErrNoFrontmatter is returned when a SKILL.md file has no YAML header.
var ErrNoFrontmatter = errors.New("no frontmatter")

// ParseFrontmatter decodes the YAML header of a SKILL.md document.
func ParseFrontmatter(content []byte) (*Frontmatter, error) {
	text, _, ok := splitFrontmatter(string(content))
	if !ok {
		return nil, ErrNoFrontmatter
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(text), &fm); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	return &fm, nil
}

// ReadName returns the frontmatter name of the SKILL.md at path, or "" when
// the file has none.
func ReadName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	fm, err := ParseFrontmatter(data)
	if errors.Is(err, ErrNoFrontmatter) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return fm.Name, nil
}

// RewriteName sets the frontmatter name of a SKILL.md document to id. Only
// the name line is touched; a document without a header gets a minimal one.
func RewriteName(content []byte, id string) ([]byte, error) {
	value, err := encodeScalar(id)
	if err != nil {
		return nil, err
	}
	nameLine := "name: " + value

	text := string(content)
	header, start, ok := splitFrontmatter(text)
	if !ok {
		return []byte("---\n" + nameLine + "\n---\n" + text), nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(header), &doc); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	if len(doc.Content) == 0 {
		return []byte(text[:start] + nameLine + "\n" + text[start:]), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("frontmatter is not a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Value != "name" {
			continue
		}
		if val.Value == id {
			return content, nil
		}
		if val.Line == key.Line && val.Kind == yaml.ScalarNode {
			lines := strings.Split(header, "\n")
			lines[key.Line-1] = nameLine
			return []byte(text[:start] + strings.Join(lines, "\n") + text[start+len(header):]), nil
		}

		// A multi-line name: drop it and re-encode the rest of the header.
		root.Content = append(root.Content[:i], root.Content[i+2:]...)
		var rest []byte
		if len(root.Content) > 0 {
			if rest, err = yaml.Marshal(root); err != nil {
				return nil, fmt.Errorf("encoding frontmatter: %w", err)
			}
		}
		return []byte(text[:start] + nameLine + "\n" + string(rest) + text[start+len(header):]), nil
	}

	return []byte(text[:start] + nameLine + "\n" + text[start:]), nil
}

func encodeScalar(s string) (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding %q: %w", s, err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

// splitFrontmatter returns the YAML between a leading pair of "---" lines and
// its offset inside content.
func splitFrontmatter(content string) (header string, start int, ok bool) {
	first, _, found := strings.Cut(content, "\n")
	if !found || strings.TrimSpace(first) != "---" {
		return "", 0, false
	}
	start = len(first) + 1
	for off := start; off < len(content); {
		line, _, _ := strings.Cut(content[off:], "\n")
		if strings.TrimSpace(line) == "---" {
			return content[start:off], start, true
		}
		next := strings.IndexByte(content[off:], '\n')
		if next < 0 {
			break
		}
		off += next + 1
	}
	return "", 0, false
}
