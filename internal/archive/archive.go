// Package archive implements the client's directory-to-ZIP archival step
// (spec.md §4.3): zip a live directory, verify its integrity, and purge the
// source once the archive is confirmed good.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned when the post-write integrity check fails: the
// file is missing, empty, fails to open, or a CRC check fails while reading
// an entry (spec.md §7 ArchiveCorrupt).
var ErrCorrupt = errors.New("archive: corrupt archive")

// Archive zips the contents of sourceDir into targetDir/<name>.zip using
// DEFLATE, with every entry's path relative to sourceDir. It then verifies
// the archive's integrity before returning. Empty directories are not
// preserved, matching spec.md §4.3 ("empty directories need not be
// preserved") since MOTRA's live directories are always flat.
func Archive(name, sourceDir, targetDir string) (string, error) {
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return "", fmt.Errorf("archive: create target dir: %w", err)
	}

	zipPath := filepath.Join(targetDir, name+".zip")

	if err := writeZip(zipPath, sourceDir); err != nil {
		return "", err
	}

	if err := verify(zipPath); err != nil {
		return "", err
	}

	return zipPath, nil
}

func writeZip(zipPath, sourceDir string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", zipPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	err = filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archive: walk %s: %w", sourceDir, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finalize %s: %w", zipPath, err)
	}
	return nil
}

// verify checks that the archive exists, is non-empty, opens cleanly, and
// that every entry's CRC32 (checked implicitly by archive/zip on a full
// read) is valid.
func verify(zipPath string) error {
	info, err := os.Stat(zipPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrCorrupt, zipPath)
	}

	rc, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open: %v", ErrCorrupt, err)
	}
	defer rc.Close()

	for _, entry := range rc.File {
		r, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: entry %s: %v", ErrCorrupt, entry.Name, err)
		}
		_, copyErr := io.Copy(io.Discard, r)
		r.Close()
		if copyErr != nil {
			// archive/zip surfaces a CRC mismatch as an error from Read/Copy.
			return fmt.Errorf("%w: entry %s failed CRC check: %v", ErrCorrupt, entry.Name, copyErr)
		}
	}

	return nil
}

// Clean removes every top-level entry of dir, leaving dir itself in place
// (spec.md §4.3). A subdirectory entry is removed together with its
// contents. A missing dir is not an error.
func Clean(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive: read dir %s: %w", dir, err)
	}

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("archive: remove %s: %w", p, err)
		}
	}
	return nil
}
