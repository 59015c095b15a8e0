package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a source could not be resolved.
type ErrorKind int

const (
	// ErrUnknown is an unclassified failure.
	ErrUnknown ErrorKind = iota
	// ErrSyntax means the source string could not be parsed.
	ErrSyntax
	// ErrNotFound means a local path or remote object does not exist.
	ErrNotFound
	// ErrAuth means authentication failed (credentials missing or invalid).
	ErrAuth
	// ErrNetwork means the host could not be reached.
	ErrNetwork
	// ErrTimeout means the operation was cancelled or timed out.
	ErrTimeout
	// ErrArchive means a downloaded or local archive is malformed or unsafe.
	ErrArchive
	// ErrManifest means the extension has no valid manifest.
	ErrManifest
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "Invalid Source"
	case ErrNotFound:
		return "Not Found"
	case ErrAuth:
		return "Authentication Required"
	case ErrNetwork:
		return "Network Error"
	case ErrTimeout:
		return "Timed Out"
	case ErrArchive:
		return "Bad Archive"
	case ErrManifest:
		return "Invalid Manifest"
	default:
		return "Unknown Error"
	}
}

// ResolutionError is returned by every failed Resolve. No state has been
// touched when it is returned.
type ResolutionError struct {
	Kind   ErrorKind
	Source string   // source string as given by the user
	Hints  []string // actionable suggestions for the user
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError checks whether an error is a *ResolutionError and
// returns it.
func IsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func newError(kind ErrorKind, src string, err error) *ResolutionError {
	return &ResolutionError{Kind: kind, Source: src, Hints: hintsFor(kind, src), Err: err}
}

// classify maps a clone or download error onto an ErrorKind.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		return ErrTimeout
	case strings.Contains(lower, "authentication required") ||
		strings.Contains(lower, "authorization failed") ||
		strings.Contains(lower, "invalid credentials") ||
		strings.Contains(lower, "permission denied (publickey)") ||
		strings.Contains(lower, "401") ||
		strings.Contains(lower, "403"):
		return ErrAuth
	case strings.Contains(lower, "repository not found") ||
		strings.Contains(lower, "reference not found") ||
		strings.Contains(lower, "couldn't find remote ref") ||
		strings.Contains(lower, "404") ||
		strings.Contains(lower, "not found"):
		return ErrNotFound
	case strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "no route to host"):
		return ErrNetwork
	}
	return ErrUnknown
}

func hintsFor(kind ErrorKind, src string) []string {
	switch kind {
	case ErrSyntax:
		return []string{
			"Use a local path (./my-ext), a tarball URL (https://host/ext.tar.gz) or owner/repo[#ref]",
		}
	case ErrNotFound:
		return []string{
			"Verify the path or URL is correct",
			"For git sources, check the branch or tag after # exists",
		}
	case ErrAuth:
		return []string{
			"Set GIT_TOKEN or GITHUB_TOKEN for private HTTPS repositories",
			"For SSH sources, make sure your key is loaded: `ssh-add -l`",
		}
	case ErrNetwork:
		return []string{
			"Check your internet connection",
			"Verify the hostname in the URL is correct",
		}
	case ErrTimeout:
		return []string{"The server did not answer in time; try again"}
	case ErrArchive:
		return []string{"The archive must be a gzip-compressed tar holding the extension"}
	case ErrManifest:
		return []string{
			"The extension root must contain extension.json, extension.yaml or extension.toml",
			fmt.Sprintf("Run `extkit install %s -v` for details", src),
		}
	default:
		return nil
	}
}
