// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stores

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DiskStore is the asset store: it maps group paths to real directories so
// objects can read and write auxiliary files (vocabularies, lookup tables)
// with plain file I/O.
//
// Archive-backed stores stage through a temporary directory: on write the
// directory tree is copied into the archive under the store's root name at
// Close; on read the matching archive members are extracted into it at
// construction. The temporary directory is removed at Close on every path.
// A store opened on an existing directory reads in place and owns nothing.
type DiskStore struct {
	writing bool
	closed  bool

	// workDir is where asset directories live. When ownsWorkDir is set it is
	// a temporary directory removed at Close.
	workDir     string
	ownsWorkDir bool

	zipWriter *zip.Writer
	rootName  string
}

// NewDiskWriter opens an asset store that stages in a temporary directory and
// copies its tree into the archive under rootName at Close.
func NewDiskWriter(zipWriter *zip.Writer, rootName string) (*DiskStore, error) {
	tmpDir, err := os.MkdirTemp("", "modelarchive-assets-")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary assets directory")
	}
	return &DiskStore{
		writing:     true,
		workDir:     tmpDir,
		ownsWorkDir: true,
		zipWriter:   zipWriter,
		rootName:    rootName,
	}, nil
}

// NewDiskReader opens an asset store over the archive members under rootName,
// extracting them into a temporary directory.
func NewDiskReader(zipReader *zip.Reader, rootName string) (*DiskStore, error) {
	tmpDir, err := os.MkdirTemp("", "modelarchive-assets-")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary assets directory")
	}
	store := &DiskStore{workDir: tmpDir, ownsWorkDir: true}
	prefix := rootName + "/"
	for _, f := range zipReader.File {
		if !strings.HasPrefix(f.Name, prefix) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel := strings.TrimPrefix(f.Name, prefix)
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			_ = store.Close()
			return nil, errors.Errorf("archive member %q has an unsafe path", f.Name)
		}
		if err := extractArchiveFile(f, filepath.Join(tmpDir, filepath.FromSlash(rel))); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewDiskDirReader opens an asset store over an existing directory, reading
// in place. Close leaves the directory untouched.
func NewDiskDirReader(rootDir string) *DiskStore {
	return &DiskStore{workDir: rootDir}
}

func extractArchiveFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, "failed to create assets directory for %q", f.Name)
	}
	src, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive member %q", f.Name)
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, "failed to create asset file for %q", f.Name)
	}
	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Wrapf(err, "failed to extract archive member %q", f.Name)
	}
	return errors.Wrapf(dst.Close(), "failed to extract archive member %q", f.Name)
}

// Make creates (if needed) the asset directory for the group at path and
// returns it. The empty path addresses the store root.
func (s *DiskStore) Make(path string) (string, error) {
	if !s.writing || s.closed {
		return "", errors.Errorf("DiskStore.Make(%q): store is not open for writing", path)
	}
	dir := filepath.Join(s.workDir, filepath.FromSlash(path))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create assets directory for %q", path)
	}
	return dir, nil
}

// Get returns the asset directory for the group at path, or found=false if
// nothing was stored for it.
func (s *DiskStore) Get(path string) (dir string, found bool) {
	if s.writing || s.closed {
		return "", false
	}
	dir = filepath.Join(s.workDir, filepath.FromSlash(path))
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		return "", false
	}
	return dir, true
}

// Close flushes a writing store into the archive and removes the temporary
// directory. Closing twice is a no-op.
func (s *DiskStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.writing && s.zipWriter != nil {
		err = s.copyTreeToArchive()
	}
	if s.ownsWorkDir {
		removeErr := os.RemoveAll(s.workDir)
		if err == nil && removeErr != nil {
			err = errors.Wrapf(removeErr, "failed to remove temporary assets directory")
		}
	}
	return err
}

// copyTreeToArchive writes every staged file as an archive member under the
// store's root name. An empty staging tree adds no members.
func (s *DiskStore) copyTreeToArchive() error {
	return filepath.WalkDir(s.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "failed to walk assets directory %q", s.workDir)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.workDir, path)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve asset path %q", path)
		}
		member, err := s.zipWriter.Create(s.rootName + "/" + filepath.ToSlash(rel))
		if err != nil {
			return errors.Wrapf(err, "failed to create archive member for asset %q", rel)
		}
		src, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "failed to open asset file %q", path)
		}
		defer func() { _ = src.Close() }()
		if _, err = io.Copy(member, src); err != nil {
			return errors.Wrapf(err, "failed to archive asset file %q", rel)
		}
		return nil
	})
}
