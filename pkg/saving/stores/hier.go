// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stores

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/gomlx/modelarchive/pkg/core/dtypes"
	"github.com/gomlx/modelarchive/pkg/core/shapes"
	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/pkg/errors"
)

// hierVarsGroup is the fixed-name sub-group holding the numeric entries of
// each group.
const hierVarsGroup = "vars"

// HierStore is the hierarchical numeric store: a tree of groups keyed by
// slash-delimited paths, each group holding a "vars" sub-group of named
// tensors. The empty path addresses the root group.
//
// On-disk encoding is an 8-byte little-endian header length, a JSON index
// mapping group path -> "vars" -> name -> {dtype, dims, offset, length}, and
// the concatenated raw little-endian tensor data. Groups and names are
// serialized in sorted order, so the output is deterministic.
//
// When embedded in an archive, writes are staged in memory and materialized
// as a single archive member at Close; standalone, the store writes (or
// reads) a file directly.
type HierStore struct {
	writing bool
	closed  bool

	// groups stages writes, or holds the parsed contents on read.
	groups map[string]map[string]*tensors.Tensor

	// Standalone write target, created at construction to fail fast.
	file *os.File

	// Archive write target.
	zipWriter  *zip.Writer
	memberName string
}

type hierIndexEntry struct {
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dims"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
}

type hierIndex map[string]map[string]map[string]hierIndexEntry

// NewHierWriter opens a standalone hierarchical store writing to filePath.
// The file is created immediately; contents are flushed at Close.
func NewHierWriter(filePath string) (*HierStore, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create weights file %q", filePath)
	}
	return &HierStore{
		writing: true,
		groups:  make(map[string]map[string]*tensors.Tensor),
		file:    f,
	}, nil
}

// NewHierArchiveWriter opens a hierarchical store that stages in memory and
// writes itself as the archive member memberName at Close.
func NewHierArchiveWriter(zipWriter *zip.Writer, memberName string) *HierStore {
	return &HierStore{
		writing:    true,
		groups:     make(map[string]map[string]*tensors.Tensor),
		zipWriter:  zipWriter,
		memberName: memberName,
	}
}

// NewHierReader opens a standalone hierarchical store reading from filePath.
// Contents are parsed eagerly; the file is not kept open.
func NewHierReader(filePath string) (*HierStore, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read weights file %q", filePath)
	}
	return newHierFromEncoded(data)
}

// NewHierArchiveReader opens a hierarchical store from the contents of an
// archive member.
func NewHierArchiveReader(r io.Reader) (*HierStore, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read weights archive member")
	}
	return newHierFromEncoded(data)
}

func newHierFromEncoded(data []byte) (*HierStore, error) {
	groups, err := decodeHier(data)
	if err != nil {
		return nil, err
	}
	return &HierStore{groups: groups}, nil
}

// Make implements NumericStore: it creates the group at path (the root group
// for the empty path) and returns its "vars" sub-group.
func (s *HierStore) Make(path string) (track.Variables, error) {
	if !s.writing || s.closed {
		return nil, errors.Errorf("HierStore.Make(%q): store is not open for writing", path)
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
func (s *HierStore) Get(path string) (map[string]*tensors.Tensor, error) {
	if s.writing || s.closed {
		return nil, errors.Errorf("HierStore.Get(%q): store is not open for reading", path)
	}
	return copyVars(s.groups[path]), nil
}

// Paths implements NumericStore.
func (s *HierStore) Paths() []string {
	return slices.Sorted(maps.Keys(s.groups))
}

// Close flushes the store: standalone, into its file; archive-embedded, as
// one archive member. Closing twice is a no-op.
func (s *HierStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.writing {
		return nil
	}

	var w io.Writer
	switch {
	case s.file != nil:
		w = s.file
	case s.zipWriter != nil:
		member, err := s.zipWriter.Create(s.memberName)
		if err != nil {
			return errors.Wrapf(err, "failed to create archive member %q", s.memberName)
		}
		w = member
	default:
		return errors.Errorf("HierStore has no write target")
	}

	err := encodeHier(s.groups, w)
	if s.file != nil {
		closeErr := s.file.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close weights file %q", s.file.Name())
		}
	}
	return err
}

// encodeHier serializes the group tree: header length, JSON index, data blob.
func encodeHier(groups map[string]map[string]*tensors.Tensor, w io.Writer) error {
	index := make(hierIndex, len(groups))
	var blob bytes.Buffer
	for _, path := range slices.Sorted(maps.Keys(groups)) {
		vars := groups[path]
		varsIndex := make(map[string]hierIndexEntry, len(vars))
		for _, name := range slices.Sorted(maps.Keys(vars)) {
			t := vars[name]
			entry := hierIndexEntry{
				DType:      t.DType().String(),
				Dimensions: t.Shape().Dimensions,
				Offset:     int64(blob.Len()),
				Length:     int64(t.Memory()),
			}
			t.ConstBytes(func(data []byte) {
				blob.Write(data)
			})
			varsIndex[name] = entry
		}
		index[path] = map[string]map[string]hierIndexEntry{hierVarsGroup: varsIndex}
	}

	header, err := json.Marshal(index)
	if err != nil {
		return errors.Wrapf(err, "failed to encode weights index")
	}
	var headerLen [8]byte
	binary.LittleEndian.PutUint64(headerLen[:], uint64(len(header)))
	for _, chunk := range [][]byte{headerLen[:], header, blob.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrapf(err, "failed to write weights store")
		}
	}
	return nil
}

// decodeHier parses the group tree serialized by encodeHier.
func decodeHier(data []byte) (map[string]map[string]*tensors.Tensor, error) {
	if len(data) < 8 {
		return nil, errors.Errorf("weights store truncated: %d bytes", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)-8) < headerLen {
		return nil, errors.Errorf("weights store truncated: header claims %d bytes, %d available",
			headerLen, len(data)-8)
	}
	var index hierIndex
	if err := json.Unmarshal(data[8:8+headerLen], &index); err != nil {
		return nil, errors.Wrapf(err, "failed to parse weights index")
	}
	blob := data[8+headerLen:]

	groups := make(map[string]map[string]*tensors.Tensor, len(index))
	for path, subGroups := range index {
		vars := make(map[string]*tensors.Tensor)
		// A group serialized without the numeric sub-group reads as empty.
		for name, entry := range subGroups[hierVarsGroup] {
			dtype := dtypes.FromString(entry.DType)
			if dtype == dtypes.InvalidDType {
				return nil, errors.Errorf("weights entry %q/%q has unknown dtype %q", path, name, entry.DType)
			}
			if entry.Offset < 0 || entry.Length < 0 || entry.Offset+entry.Length > int64(len(blob)) {
				return nil, errors.Errorf("weights entry %q/%q is out of bounds", path, name)
			}
			for _, dim := range entry.Dimensions {
				if dim <= 0 {
					return nil, errors.Errorf("weights entry %q/%q has invalid dimensions %v", path, name, entry.Dimensions)
				}
			}
			shape := shapes.Make(dtype, entry.Dimensions...)
			t, err := tensors.FromBytes(shape, bytes.Clone(blob[entry.Offset:entry.Offset+entry.Length]))
			if err != nil {
				return nil, errors.WithMessagef(err, "weights entry %q/%q", path, name)
			}
			vars[name] = t
		}
		groups[path] = vars
	}
	return groups, nil
}
