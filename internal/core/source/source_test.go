package source

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_Remote(t *testing.T) {
	tests := []struct {
		input   string
		kind    Kind
		url     string
		ref     string
		subPath string
	}{
		{"acme/hello", KindGit, "https://github.com/acme/hello.git", "", ""},
		{"acme/hello#v1.2.0", KindGit, "https://github.com/acme/hello.git", "v1.2.0", ""},
		{"acme/exts/hello-commit", KindGit, "https://github.com/acme/exts.git", "", "hello-commit"},
		{"acme/exts/nested/dir#main", KindGit, "https://github.com/acme/exts.git", "main", "nested/dir"},
		{"https://gitlab.com/acme/hello.git", KindGit, "https://gitlab.com/acme/hello.git", "", ""},
		{"https://gitlab.com/acme/hello.git#dev", KindGit, "https://gitlab.com/acme/hello.git", "dev", ""},
		{"https://github.com/acme/exts/tree/main/hello", KindGit, "https://github.com/acme/exts.git", "main", "hello"},
		{"git@github.com:acme/hello.git", KindGit, "git@github.com:acme/hello.git", "", ""},
		{"ssh://git@host/acme/hello.git#v2", KindGit, "ssh://git@host/acme/hello.git", "v2", ""},
		{"https://example.com/dl/hello-1.0.0.tar.gz", KindHTTP, "https://example.com/dl/hello-1.0.0.tar.gz", "", ""},
		{"http://example.com/hello.tgz", KindHTTP, "http://example.com/hello.tgz", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			spec, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if spec.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", spec.Kind, tt.kind)
			}
			if spec.URL != tt.url {
				t.Errorf("URL = %q, want %q", spec.URL, tt.url)
			}
			if spec.Ref != tt.ref {
				t.Errorf("Ref = %q, want %q", spec.Ref, tt.ref)
			}
			if spec.SubPath != tt.subPath {
				t.Errorf("SubPath = %q, want %q", spec.SubPath, tt.subPath)
			}
		})
	}
}

func TestParse_Local(t *testing.T) {
	spec, err := Parse("./exts/hello")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Kind != KindLocal {
		t.Errorf("Kind = %q, want %q", spec.Kind, KindLocal)
	}
	if !filepath.IsAbs(spec.Path) {
		t.Errorf("Path = %q, want absolute", spec.Path)
	}
	if spec.Canonical() != spec.Path {
		t.Errorf("Canonical() = %q, want %q", spec.Canonical(), spec.Path)
	}

	spec, err = Parse("../dist/hello.tar.gz")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Kind != KindArchive {
		t.Errorf("Kind = %q, want %q", spec.Kind, KindArchive)
	}
}

func TestParse_BareExistingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.Mkdir(filepath.Join(dir, "hello"), 0o755); err != nil {
		t.Fatal(err)
	}

	spec, err := Parse("hello")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Kind != KindLocal {
		t.Errorf("Kind = %q, want %q", spec.Kind, KindLocal)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"no-such-thing-here",
		"https://",
		"https://example.com/hello.tar.gz#v1",
	} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) expected error", input)
		}
	}
}

func TestCanonical_Git(t *testing.T) {
	spec, err := Parse("acme/exts/hello#v1")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := "https://github.com/acme/exts.git//hello#v1"
	if got := spec.Canonical(); got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"authentication required", ErrAuth},
		{"unexpected status 403", ErrAuth},
		{"repository not found", ErrNotFound},
		{"reference not found", ErrNotFound},
		{"dial tcp: lookup nohost: no such host", ErrNetwork},
		{"i/o timeout", ErrTimeout},
		{"something odd", ErrUnknown},
	}
	for _, tt := range tests {
		if got := classify(errString(tt.msg)); got != tt.want {
			t.Errorf("classify(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
