// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy reads and writes tensors to Python's NumPy npy and npz file
// formats.
//
// Only little-endian, C-order (row-major) data is written. On read,
// Fortran-order data is accepted for ranks <= 1 only, and big-endian data is
// rejected.
package numpy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/modelarchive/pkg/core/dtypes"
	"github.com/gomlx/modelarchive/pkg/core/shapes"
	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/pkg/errors"
)

var npyMagic = []byte("\x93NUMPY")

// FromNpyReader reads a .npy stream and returns a tensors.Tensor.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy magic string")
	}
	if !bytes.Equal(magic, npyMagic) {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy version")
	}
	var headerLen int
	switch {
	case version[0] == 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read .npy header length (v1.0)")
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes))
	case version[0] >= 2:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read .npy header length (v2.0+)")
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes))
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy header")
	}
	descr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse .npy header")
	}
	if strings.HasPrefix(descr, ">") {
		return nil, errors.Errorf("big-endian .npy data (%q) is not supported", descr)
	}
	dtype, err := dtypeFromNpyDescr(descr)
	if err != nil {
		return nil, err
	}
	shape := shapes.Make(dtype, dims...)
	if fortranOrder && shape.Rank() > 1 {
		return nil, errors.Errorf("fortran-order .npy data of rank %d is not supported", shape.Rank())
	}

	data := make([]byte, shape.Memory())
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy tensor data (expected %d bytes)", len(data))
	}
	return tensors.FromBytes(shape, data)
}

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	return FromNpyReader(file)
}

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy format
// (version 1.0, little-endian, C-order).
func ToNpyWriter(t *tensors.Tensor, w io.Writer) error {
	shape := t.Shape()
	descr, err := npyDescrForDType(shape.DType)
	if err != nil {
		return err
	}

	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}

	var headerBuf bytes.Buffer
	headerBuf.WriteString(fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple))
	// Preamble is magic (6) + version (2) + header length (2) = 10 bytes; the
	// header is padded with spaces, plus a final newline, so the data start is
	// aligned to 16 bytes.
	for (10+headerBuf.Len()+1)%16 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')

	if _, err := w.Write(npyMagic); err != nil {
		return errors.Wrapf(err, "failed to write .npy magic string")
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return errors.Wrapf(err, "failed to write .npy version")
	}
	headerLenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(headerLenBytes, uint16(headerBuf.Len()))
	if _, err := w.Write(headerLenBytes); err != nil {
		return errors.Wrapf(err, "failed to write .npy header length")
	}
	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}

	var writeErr error
	t.ConstBytes(func(data []byte) {
		_, writeErr = w.Write(data)
	})
	if writeErr != nil {
		return errors.Wrapf(writeErr, "failed to write .npy tensor data")
	}
	return nil
}

// parseNpyHeader extracts descr, shape and fortran_order from the .npy header
// string, e.g. "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }".
func parseNpyHeader(header string) (descr string, dims []int, fortranOrder bool, err error) {
	mDescr := regexpNpyDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	descr = mDescr[1]

	mFortran := regexpNpyFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := regexpNpyShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	shapeStr := strings.TrimSpace(mShape[1])
	if shapeStr == "" {
		// Scalar: "()".
		return
	}
	for _, part := range strings.Split(shapeStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			// Trailing comma, as in "(10,)".
			continue
		}
		dim, pErr := strconv.Atoi(part)
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", part)
			return
		}
		dims = append(dims, dim)
	}
	return
}

var (
	regexpNpyDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	regexpNpyFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	regexpNpyShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// dtypeFromNpyDescr converts a NumPy dtype descr string to a dtypes.DType.
func dtypeFromNpyDescr(descr string) (dtypes.DType, error) {
	switch {
	case descr == "|b1" || descr == "?" || descr == "b1":
		return dtypes.Bool, nil
	case strings.HasSuffix(descr, "i1"):
		return dtypes.Int8, nil
	case strings.HasSuffix(descr, "u1"):
		return dtypes.Uint8, nil
	case strings.HasSuffix(descr, "i2"):
		return dtypes.Int16, nil
	case strings.HasSuffix(descr, "u2"):
		return dtypes.Uint16, nil
	case strings.HasSuffix(descr, "i4"):
		return dtypes.Int32, nil
	case strings.HasSuffix(descr, "u4"):
		return dtypes.Uint32, nil
	case strings.HasSuffix(descr, "i8"):
		return dtypes.Int64, nil
	case strings.HasSuffix(descr, "u8"):
		return dtypes.Uint64, nil
	case strings.HasSuffix(descr, "f2"):
		// NumPy's f2 is IEEE 754 half-precision.
		return dtypes.Float16, nil
	case strings.HasSuffix(descr, "f4"):
		return dtypes.Float32, nil
	case strings.HasSuffix(descr, "f8"):
		return dtypes.Float64, nil
	case strings.HasSuffix(descr, "c8"):
		return dtypes.Complex64, nil
	case strings.HasSuffix(descr, "c16"):
		return dtypes.Complex128, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported NumPy dtype: %s", descr)
	}
}

// npyDescrForDType converts a dtypes.DType to a NumPy dtype descr string.
// It assumes little-endian ('<') for multi-byte types.
func npyDescrForDType(dtype dtypes.DType) (string, error) {
	switch dtype {
	case dtypes.Bool:
		return "|b1", nil
	case dtypes.Int8:
		return "<i1", nil
	case dtypes.Uint8:
		return "<u1", nil
	case dtypes.Int16:
		return "<i2", nil
	case dtypes.Uint16:
		return "<u2", nil
	case dtypes.Int32:
		return "<i4", nil
	case dtypes.Uint32:
		return "<u4", nil
	case dtypes.Int64:
		return "<i8", nil
	case dtypes.Uint64:
		return "<u8", nil
	case dtypes.Float16:
		return "<f2", nil
	case dtypes.Float32:
		return "<f4", nil
	case dtypes.Float64:
		return "<f8", nil
	case dtypes.Complex64:
		return "<c8", nil
	case dtypes.Complex128:
		return "<c16", nil
	default:
		return "", errors.Errorf("unsupported DType for .npy: %s", dtype)
	}
}

// FromNpzReader reads a .npz archive from an io.ReaderAt and size, returning
// a map of tensor names to tensors. All entries are read eagerly.
// .npz files are zip archives, so it needs an io.ReaderAt.
func FromNpzReader(r io.ReaderAt, size int64) (map[string]*tensors.Tensor, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create zip reader for .npz")
	}

	results := make(map[string]*tensors.Tensor)
	for _, f := range zipReader.File {
		// For extra safety.
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("invalid (malicious?) path in .npz archive: %q (normalized to %q)",
				f.Name, cleanPath)
		}
		if !strings.HasSuffix(f.Name, ".npy") {
			// .npz may contain other metadata files, skip those.
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within .npz", f.Name)
		}
		t, err := FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read tensor %q from .npz", f.Name)
		}
		results[strings.TrimSuffix(f.Name, ".npy")] = t
	}
	return results, nil
}

// FromNpzFile reads a .npz file and returns a map of tensor names to tensors.
func FromNpzFile(filePath string) (map[string]*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat .npz file %q", filePath)
	}
	return FromNpzReader(file, info.Size())
}

// ToNpzWriter serializes a map of tensors to an io.Writer as a .npz archive.
// Entries are written in sorted name order, so the output is deterministic.
func ToNpzWriter(tensorsMap map[string]*tensors.Tensor, w io.Writer) error {
	zipWriter := zip.NewWriter(w)
	names := slices.Sorted(maps.Keys(tensorsMap))
	for _, name := range names {
		npyName := name + ".npy"
		fileWriter, err := zipWriter.Create(npyName)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in .npz archive", npyName)
		}
		if err := ToNpyWriter(tensorsMap[name], fileWriter); err != nil {
			return errors.WithMessagef(err, "failed to write tensor %q to .npz archive", name)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return errors.Wrapf(err, "failed to close .npz archive")
	}
	return nil
}

// ToNpzFile serializes a map of tensors to a .npz file.
func ToNpzFile(tensorsMap map[string]*tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	if err := ToNpzWriter(tensorsMap, file); err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed to close .npz file %q", filePath)
}
