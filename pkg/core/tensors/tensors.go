// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a host-memory multidimensional array
// used as the unit of numeric state moved in and out of the stores.
//
// A Tensor is defined by its shape (a dtypes.DType plus the axes' dimensions)
// and its content, held as the flat row-major ("C order") little-endian bytes
// of the elements. Keeping the raw bytes in the wire layout makes serializing
// to the numeric stores a plain copy.
//
// Construct tensors with FromShape (zero-initialized), FromScalar or
// FromFlatDataAndDimensions. Access contents with ConstBytes/MutableBytes for
// raw access, or CopyFlatData/ToScalar for typed copies.
package tensors

import (
	"bytes"
	"encoding/binary"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/modelarchive/pkg/core/dtypes"
	"github.com/gomlx/modelarchive/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array: from a scalar with 0 dimensions
// to arbitrarily large dimensions. Contents are stored flat, in row-major
// order, as little-endian bytes.
type Tensor struct {
	shape shapes.Shape
	data  []byte
}

// FromShape returns a Tensor of the given shape with zero-initialized contents.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape: invalid shape %s", shape)
	}
	return &Tensor{
		shape: shape,
		data:  make([]byte, shape.Memory()),
	}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions,
// initialized with the flattened values. The length of data must match the
// product of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s requires %d values, got %d",
			shape, shape.Size(), len(data))
	}
	var buf bytes.Buffer
	buf.Grow(int(shape.Memory()))
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: failed to encode %s data: %v", dtype, err)
	}
	return &Tensor{shape: shape, data: buf.Bytes()}
}

// FromScalar creates a scalar tensor with the given value.
// The DType is inferred from the value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromBytes creates a tensor of the given shape taking ownership of the given
// flat little-endian data. It returns an error if the data length doesn't
// match the shape.
func FromBytes(shape shapes.Shape, data []byte) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.FromBytes: invalid shape %s", shape)
	}
	if len(data) != int(shape.Memory()) {
		return nil, errors.Errorf("tensors.FromBytes: shape %s requires %d bytes, got %d",
			shape, shape.Memory(), len(data))
	}
	return &Tensor{shape: shape, data: data}, nil
}

// Shape of the tensor, includes the DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && len(t.data) == int(t.shape.Memory())
}

// ConstBytes calls fn with the flat contents of the tensor.
// The data must not be modified -- see MutableBytes.
func (t *Tensor) ConstBytes(fn func(data []byte)) {
	t.assertValid()
	fn(t.data)
}

// MutableBytes calls fn with the flat contents of the tensor, which fn is
// free to modify in place.
func (t *Tensor) MutableBytes(fn func(data []byte)) {
	t.assertValid()
	fn(t.data)
}

func (t *Tensor) assertValid() {
	if !t.Ok() {
		exceptions.Panicf("tensors.Tensor is nil or in an invalid state")
	}
}

// CopyFlatData returns a copy of the flat data of the tensor, decoded to the
// given Go type. It panics if the generic type doesn't match the tensor DType.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	t.assertValid()
	if t.DType() != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("tensors.CopyFlatData[%T] is incompatible with tensor's dtype %s", v, t.DType())
	}
	flat := make([]T, t.Size())
	if err := binary.Read(bytes.NewReader(t.data), binary.LittleEndian, flat); err != nil {
		exceptions.Panicf("tensors.CopyFlatData: failed to decode %s data: %v", t.DType(), err)
	}
	return flat
}

// ToScalar returns the scalar value of the tensor.
// It panics if the tensor is not a scalar or the generic type doesn't match
// the tensor DType.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	t.assertValid()
	if !t.IsScalar() {
		var v T
		exceptions.Panicf("tensors.ToScalar[%T] requires a scalar tensor, got shape %s instead", v, t.shape)
	}
	return CopyFlatData[T](t)[0]
}

// Equal compares shape and contents of both tensors.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.shape.Equal(other.shape) && bytes.Equal(t.data, other.data)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.assertValid()
	return &Tensor{
		shape: t.shape.Clone(),
		data:  bytes.Clone(t.data),
	}
}

// String prints the tensor shape -- contents would be too large in general.
func (t *Tensor) String() string {
	if !t.Ok() {
		return "tensors.Tensor(invalid)"
	}
	return "tensors.Tensor" + t.shape.String()
}
