package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/mod/sumdb/dirhash"

	"github.com/barysiuk/extkit/internal/core/manifest"
)

// Resolved is an extension source materialised on local disk.
type Resolved struct {
	Manifest *manifest.Manifest
	Dir      string // extension root holding the manifest
	Source   string // canonical source string
	Checksum string // dirhash of Dir, excluding VCS metadata

	cleanup func()
}

// Close removes temporary files created while resolving.
func (r *Resolved) Close() error {
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
	return nil
}

// Resolver turns source strings into Resolved extensions.
type Resolver struct {
	Client  *http.Client
	TempDir string // parent for downloads and clones; "" uses os.TempDir()

	log *slog.Logger
}

// NewResolver creates a Resolver with a default HTTP client.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		Client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}
}

// Resolve fetches src and loads its manifest. Every failure is a
// *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, src string) (*Resolved, error) {
	spec, err := Parse(src)
	if err != nil {
		return nil, newError(ErrSyntax, src, err)
	}
	log := r.log.With("source", spec.Canonical(), "kind", string(spec.Kind))
	log.Debug("resolving extension source")

	var (
		dir     string
		cleanup func()
	)
	switch spec.Kind {
	case KindLocal:
		dir, err = r.local(spec)
	case KindArchive:
		dir, cleanup, err = r.archive(spec)
	case KindHTTP:
		dir, cleanup, err = r.download(ctx, spec)
	case KindGit:
		dir, cleanup, err = r.clone(ctx, spec)
	default:
		err = newError(ErrSyntax, src, fmt.Errorf("unsupported source kind %q", spec.Kind))
	}
	if err != nil {
		return nil, err
	}

	fail := func(kind ErrorKind, err error) (*Resolved, error) {
		if cleanup != nil {
			cleanup()
		}
		return nil, newError(kind, src, err)
	}

	m, err := manifest.Load(dir)
	if err != nil {
		return fail(ErrManifest, err)
	}
	sum, err := Checksum(dir)
	if err != nil {
		return fail(ErrUnknown, err)
	}

	log.Debug("resolved extension source", "name", m.Name, "version", m.Version, "checksum", sum)
	return &Resolved{
		Manifest: m,
		Dir:      dir,
		Source:   spec.Canonical(),
		Checksum: sum,
		cleanup:  cleanup,
	}, nil
}

func (r *Resolver) local(spec *Spec) (string, error) {
	info, err := os.Stat(spec.Path)
	if err != nil {
		return "", newError(ErrNotFound, spec.Input, err)
	}
	if !info.IsDir() {
		return "", newError(ErrSyntax, spec.Input, fmt.Errorf("%s is neither a directory nor a .tar.gz archive", spec.Path))
	}
	return spec.Path, nil
}

func (r *Resolver) archive(spec *Spec) (string, func(), error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return "", nil, newError(ErrNotFound, spec.Input, err)
	}
	defer func() { _ = f.Close() }()
	return r.unpack(spec, f)
}

func (r *Resolver) download(ctx context.Context, spec *Spec) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return "", nil, newError(ErrSyntax, spec.Input, err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", nil, newError(classify(err), spec.Input, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GET %s: %s", spec.URL, resp.Status)
		kind := ErrUnknown
		switch resp.StatusCode {
		case http.StatusNotFound:
			kind = ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = ErrAuth
		}
		return "", nil, newError(kind, spec.Input, err)
	}
	return r.unpack(spec, resp.Body)
}

func (r *Resolver) unpack(spec *Spec, body io.Reader) (string, func(), error) {
	tmp, err := os.MkdirTemp(r.TempDir, "extkit-src-")
	if err != nil {
		return "", nil, newError(ErrUnknown, spec.Input, err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	if err := extractTarGz(body, tmp); err != nil {
		cleanup()
		return "", nil, newError(ErrArchive, spec.Input, err)
	}
	return archiveRoot(tmp), cleanup, nil
}

func (r *Resolver) clone(ctx context.Context, spec *Spec) (string, func(), error) {
	auth, err := buildAuthMethod(spec.URL)
	if err != nil {
		return "", nil, newError(ErrAuth, spec.Input, err)
	}

	tmp, err := os.MkdirTemp(r.TempDir, "extkit-git-")
	if err != nil {
		return "", nil, newError(ErrUnknown, spec.Input, err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	opts := &git.CloneOptions{URL: spec.URL, Auth: auth, Depth: 1}
	if spec.Ref == "" {
		_, err = git.PlainCloneContext(ctx, tmp, false, opts)
	} else {
		// The ref may name a branch or a tag.
		for _, name := range []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(spec.Ref),
			plumbing.NewTagReferenceName(spec.Ref),
		} {
			opts.ReferenceName = name
			opts.SingleBranch = true
			if _, err = git.PlainCloneContext(ctx, tmp, false, opts); err == nil {
				break
			}
			if err := resetDir(tmp); err != nil {
				cleanup()
				return "", nil, newError(ErrUnknown, spec.Input, err)
			}
		}
	}
	if err != nil {
		cleanup()
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return "", nil, newError(ErrNotFound, spec.Input, err)
		}
		return "", nil, newError(classify(err), spec.Input, fmt.Errorf("cloning %s: %w", spec.URL, err))
	}

	dir := tmp
	if spec.SubPath != "" {
		dir = filepath.Join(tmp, filepath.FromSlash(spec.SubPath))
		if rel, err := filepath.Rel(tmp, dir); err != nil || !filepath.IsLocal(rel) {
			cleanup()
			return "", nil, newError(ErrSyntax, spec.Input, fmt.Errorf("sub path %q escapes the repository", spec.SubPath))
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			cleanup()
			return "", nil, newError(ErrNotFound, spec.Input, fmt.Errorf("sub path %q not found in repository", spec.SubPath))
		}
	}
	return dir, cleanup, nil
}

// resetDir empties dir after a failed clone attempt.
func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// buildAuthMethod returns an auth method appropriate for the given URL, or
// nil for anonymous HTTPS access.
func buildAuthMethod(repoURL string) (transport.AuthMethod, error) {
	if strings.HasPrefix(repoURL, "git@") || strings.HasPrefix(repoURL, "ssh://") {
		auth, err := gitssh.NewSSHAgentAuth(gitssh.DefaultUsername)
		if err != nil {
			return nil, fmt.Errorf("SSH authentication unavailable: %w", err)
		}
		return auth, nil
	}

	for _, envVar := range []string{"GIT_TOKEN", "GITHUB_TOKEN", "GITLAB_TOKEN"} {
		if token := os.Getenv(envVar); token != "" {
			return &githttp.BasicAuth{Username: "token", Password: token}, nil
		}
	}
	return nil, nil
}

// Checksum hashes the file tree under dir (excluding .git) in the Go module
// "h1:" format.
func Checksum(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", dir, err)
	}
	sort.Strings(files)

	return dirhash.Hash1(files, func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, filepath.FromSlash(name)))
	})
}
