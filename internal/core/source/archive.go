package source

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxArchiveFile caps the size of a single extracted file.
const maxArchiveFile = 64 << 20

// extractTarGz unpacks a gzip-compressed tar stream into dst. Entries that
// would land outside dst are rejected; links and special files are skipped.
func extractTarGz(r io.Reader, dst string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		name := strings.TrimPrefix(filepath.FromSlash(hdr.Name), "."+string(filepath.Separator))
		if name == "" || name == "." {
			continue
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry %q escapes the extraction directory", hdr.Name)
		}
		target := filepath.Join(dst, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size > maxArchiveFile {
				return fmt.Errorf("archive entry %q is too large (%d bytes)", hdr.Name, hdr.Size)
			}
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		default:
			// Symlinks, hard links and devices are not part of an extension.
		}
	}
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxArchiveFile)); err != nil {
		_ = f.Close()
		return fmt.Errorf("extracting %s: %w", filepath.Base(target), err)
	}
	return f.Close()
}

// archiveRoot descends into a single top-level directory, the usual layout
// of release tarballs ("hello-1.0.0/extension.json").
func archiveRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
