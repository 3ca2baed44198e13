// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stores

import (
	"archive/zip"
	"bytes"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/gomlx/modelarchive/pkg/core/tensors/numpy"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/pkg/errors"
)

// npzRootKey stands in for the empty path, since .npz entry names cannot be
// empty.
const npzRootKey = "__root__"

// NpzStore is the flat numeric store: an .npz archive whose entries are named
// "<group path>/<variable name>". Variable names may not contain "/", so the
// split at the last slash is unambiguous.
//
// Reads are eager: the whole archive is parsed at construction. Writes are
// staged in memory and flushed as an .npz file (or archive member) at Close.
type NpzStore struct {
	writing bool
	closed  bool

	groups map[string]map[string]*tensors.Tensor

	filePath   string
	zipWriter  *zip.Writer
	memberName string
}

// NewNpzWriter opens a flat store writing to the .npz file at filePath.
func NewNpzWriter(filePath string) *NpzStore {
	return &NpzStore{
		writing:  true,
		groups:   make(map[string]map[string]*tensors.Tensor),
		filePath: filePath,
	}
}

// NewNpzArchiveWriter opens a flat store that writes itself as the archive
// member memberName at Close.
func NewNpzArchiveWriter(zipWriter *zip.Writer, memberName string) *NpzStore {
	return &NpzStore{
		writing:    true,
		groups:     make(map[string]map[string]*tensors.Tensor),
		zipWriter:  zipWriter,
		memberName: memberName,
	}
}

// NewNpzReader opens a flat store reading the .npz file at filePath.
func NewNpzReader(filePath string) (*NpzStore, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read weights file %q", filePath)
	}
	return newNpzFromEncoded(data)
}

// NewNpzArchiveReader opens a flat store from the contents of an archive
// member.
func NewNpzArchiveReader(r io.Reader) (*NpzStore, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read weights archive member")
	}
	return newNpzFromEncoded(data)
}

func newNpzFromEncoded(data []byte) (*NpzStore, error) {
	flat, err := numpy.FromNpzReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	groups := make(map[string]map[string]*tensors.Tensor)
	for entryName, t := range flat {
		key, name := splitNpzEntry(entryName)
		path := key
		if path == npzRootKey {
			path = ""
		}
		vars, found := groups[path]
		if !found {
			vars = make(map[string]*tensors.Tensor)
			groups[path] = vars
		}
		vars[name] = t
	}
	return &NpzStore{groups: groups}, nil
}

// splitNpzEntry splits "<key>/<name>" at the last slash. An entry with no
// slash is treated as a root-group variable.
func splitNpzEntry(entryName string) (key, name string) {
	idx := strings.LastIndexByte(entryName, '/')
	if idx < 0 {
		return npzRootKey, entryName
	}
	return entryName[:idx], entryName[idx+1:]
}

// Make implements NumericStore.
func (s *NpzStore) Make(path string) (track.Variables, error) {
	if !s.writing || s.closed {
		return nil, errors.Errorf("NpzStore.Make(%q): store is not open for writing", path)
	}
	vars, found := s.groups[path]
	if !found {
		vars = make(map[string]*tensors.Tensor)
		s.groups[path] = vars
	}
	return &group{vars: vars}, nil
}

// Get implements NumericStore: a path absent from the store resolves to an
// empty map.
func (s *NpzStore) Get(path string) (map[string]*tensors.Tensor, error) {
	if s.writing || s.closed {
		return nil, errors.Errorf("NpzStore.Get(%q): store is not open for reading", path)
	}
	return copyVars(s.groups[path]), nil
}

// Paths implements NumericStore.
func (s *NpzStore) Paths() []string {
	return slices.Sorted(maps.Keys(s.groups))
}

// Close flushes the staged groups as an .npz, either to the store's file or
// as one archive member. Closing twice is a no-op.
func (s *NpzStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.writing {
		return nil
	}

	flat := make(map[string]*tensors.Tensor)
	for path, vars := range s.groups {
		key := path
		if key == "" {
			key = npzRootKey
		}
		for name, t := range vars {
			flat[key+"/"+name] = t
		}
	}

	if s.zipWriter != nil {
		member, err := s.zipWriter.Create(s.memberName)
		if err != nil {
			return errors.Wrapf(err, "failed to create archive member %q", s.memberName)
		}
		return numpy.ToNpzWriter(flat, member)
	}
	return numpy.ToNpzFile(flat, s.filePath)
}
