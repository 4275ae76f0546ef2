// Package archive builds verifiable cold-storage archives: a scoped
// scratch directory zipped into a single deflate archive, plus the
// object-store client that uploads and verifies them.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Scratch is a scoped temporary directory that zips its contents on
// finalize. Release must be called on every exit path; it removes the
// scratch directory even if Finalize was never reached.
type Scratch struct {
	root       string
	contentDir string
	zipPath    string
}

// NewScratch creates a scratch area whose archive will be named
// zipName.
func NewScratch(zipName string) (*Scratch, error) {
	root, err := os.MkdirTemp("", "stationd-archive-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	contentDir := filepath.Join(root, "content")
	if err := os.Mkdir(contentDir, 0o755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to create content dir: %w", err)
	}
	return &Scratch{
		root:       root,
		contentDir: contentDir,
		zipPath:    filepath.Join(root, filepath.Base(zipName)),
	}, nil
}

// ContentDir is the directory to place archive entries in.
func (s *Scratch) ContentDir() string {
	return s.contentDir
}

// Finalize zips the content directory (deflate) and returns the path
// of the archive. The archive lives inside the scratch root until
// Release.
func (s *Scratch) Finalize() (string, error) {
	f, err := os.Create(s.zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(s.contentDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.contentDir, path)
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
		return "", fmt.Errorf("failed to zip scratch contents: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	return s.zipPath, nil
}

// Release removes the scratch area. With keepZip the finalized archive
// survives (the caller owns the returned path); everything else is
// always removed.
func (s *Scratch) Release(keepZip bool) error {
	if !keepZip {
		return os.RemoveAll(s.root)
	}
	return os.RemoveAll(s.contentDir)
}
