// Package source resolves an extension source string into a local directory
// holding a validated manifest and the extension's file tree.
package source

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind classifies an extension source.
type Kind string

const (
	KindLocal   Kind = "local"   // directory on disk
	KindArchive Kind = "archive" // .tar.gz / .tgz file on disk
	KindHTTP    Kind = "http"    // tarball served over http(s)
	KindGit     Kind = "git"     // git repository
)

// ownerRepoPattern matches "owner/repo" format (2 segments, no protocol).
var ownerRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)

// ownerRepoPathPattern matches "owner/repo/path/to/extension" format (3+ segments).
var ownerRepoPathPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+)/(.+)$`)

// Spec is a parsed source string.
type Spec struct {
	Kind    Kind
	Input   string // original input
	Path    string // absolute path for local kinds
	URL     string // download or clone URL for remote kinds
	Ref     string // git branch or tag
	SubPath string // extension directory inside a git repository
}

// Canonical returns the string recorded as the extension's source.
func (s *Spec) Canonical() string {
	switch s.Kind {
	case KindLocal, KindArchive:
		return s.Path
	case KindGit:
		out := s.URL
		if s.SubPath != "" {
			out += "//" + s.SubPath
		}
		if s.Ref != "" {
			out += "#" + s.Ref
		}
		return out
	default:
		return s.URL
	}
}

// Parse parses an extension source string.
//
// Supported formats:
//   - "./local/dir" or "/abs/dir"            → local directory
//   - "./ext.tar.gz" or "/abs/ext.tgz"       → local archive
//   - "https://host/ext.tar.gz"              → tarball download
//   - "https://host/owner/repo[.git][#ref]"  → git repository
//   - "git@host:owner/repo.git[#ref]"        → git repository over SSH
//   - "owner/repo[/path][#ref]"              → GitHub repository
func Parse(input string) (*Spec, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty source")
	}

	if isLocalPath(input) {
		return parseLocal(input)
	}

	rest, ref, _ := strings.Cut(input, "#")

	switch {
	case strings.HasPrefix(rest, "https://") || strings.HasPrefix(rest, "http://"):
		return parseHTTP(input, rest, ref)
	case strings.HasPrefix(rest, "git@") || strings.HasPrefix(rest, "ssh://") || strings.HasPrefix(rest, "git://"):
		return &Spec{Kind: KindGit, Input: input, URL: rest, Ref: ref}, nil
	}

	if m := ownerRepoPathPattern.FindStringSubmatch(rest); m != nil {
		return &Spec{
			Kind:    KindGit,
			Input:   input,
			URL:     fmt.Sprintf("https://github.com/%s/%s.git", m[1], m[2]),
			Ref:     ref,
			SubPath: m[3],
		}, nil
	}
	if ownerRepoPattern.MatchString(rest) {
		return &Spec{
			Kind:  KindGit,
			Input: input,
			URL:   fmt.Sprintf("https://github.com/%s.git", strings.TrimSuffix(rest, ".git")),
			Ref:   ref,
		}, nil
	}

	// A bare name that exists on disk is a local source too.
	if _, err := os.Stat(input); err == nil {
		return parseLocal(input)
	}

	return nil, fmt.Errorf("unrecognized source format: %q", input)
}

func isLocalPath(input string) bool {
	return strings.HasPrefix(input, "./") ||
		strings.HasPrefix(input, "../") ||
		strings.HasPrefix(input, "/") ||
		strings.HasPrefix(input, "~/") ||
		input == "." || input == ".."
}

func isArchive(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

func parseLocal(input string) (*Spec, error) {
	p := input
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("resolving local path: %w", err)
	}

	kind := KindLocal
	if isArchive(abs) {
		kind = KindArchive
	}
	return &Spec{Kind: kind, Input: input, Path: abs}, nil
}

func parseHTTP(input, rest, ref string) (*Spec, error) {
	u, err := url.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", rest)
	}

	if isArchive(u.Path) {
		if ref != "" {
			return nil, fmt.Errorf("a ref (#%s) cannot be used with a tarball URL", ref)
		}
		return &Spec{Kind: KindHTTP, Input: input, URL: rest}, nil
	}

	spec := &Spec{Kind: KindGit, Input: input, URL: rest, Ref: ref}

	// https://host/owner/repo/tree/<ref>/<subpath> as copied from a browser.
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 && parts[2] == "tree" {
		spec.URL = fmt.Sprintf("%s://%s/%s/%s.git", u.Scheme, u.Host, parts[0], strings.TrimSuffix(parts[1], ".git"))
		if spec.Ref == "" {
			spec.Ref = parts[3]
		}
		if len(parts) > 4 {
			spec.SubPath = strings.Join(parts[4:], "/")
		}
	}
	return spec, nil
}
