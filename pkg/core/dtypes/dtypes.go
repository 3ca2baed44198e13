// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the DType enum of element types supported by the
// modelarchive tensors, with converters to/from Go native types and sizes.
//
// Float16 uses the github.com/x448/float16 implementation.
package dtypes

import (
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
)

// DType is the enum of element types a tensor can hold.
type DType int

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Complex64
	Complex128
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	Complex64:    "Complex64",
	Complex128:   "Complex128",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	name, found := dtypeNames[dtype]
	if !found {
		return "InvalidDType"
	}
	return name
}

// FromString converts a dtype name (case-insensitive) back to a DType.
// It returns InvalidDType for unknown names.
func FromString(name string) DType {
	for dtype, dtypeName := range dtypeNames {
		if strings.EqualFold(name, dtypeName) {
			return dtype
		}
	}
	return InvalidDType
}

// Supported lists the Go types the tensors package knows how to convert.
// Used as a constraint for generics.
//
// Notice Go's `int` type is not included, since it is not portable: use an
// explicit width. FromAny still accepts int values, mapping them to Int64.
type Supported interface {
	bool | float16.Float16 |
		float32 | float64 | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		complex64 | complex128
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromAny(t)
}

// FromAny introspects the underlying type of any and returns the corresponding
// DType. Unsupported types return InvalidDType.
func FromAny(value any) DType {
	switch value.(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int, int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	}
	return InvalidDType
}

// Pre-generated reflect.Type for the special float types.
var float16Type = reflect.TypeOf(float16.Float16(0))

// GoType returns the Go `reflect.Type` corresponding to the tensor DType.
// It panics for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(true)
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Float16:
		return float16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	case Complex64:
		return reflect.TypeOf(complex64(0))
	case Complex128:
		return reflect.TypeOf(complex128(0))
	default:
		exceptions.Panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
		panic(nil) // Unreachable.
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory returns the number of bytes for the given DType, as an uintptr.
// It's an alias to Size.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// SizeForDimensions returns the size in bytes used to store the given
// dimensions of this dtype. It works also for scalar shapes, where the list
// of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("dimension cannot be negative for SizeForDimensions, got %v", dimensions)
		}
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// IsFloat returns whether dtype is a supported float type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a supported integer type, signed or unsigned.
func (dtype DType) IsInt() bool {
	return dtype == Int8 || dtype == Int16 || dtype == Int32 || dtype == Int64 ||
		dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// IsComplex returns whether dtype is a supported complex number type.
func (dtype DType) IsComplex() bool {
	return dtype == Complex64 || dtype == Complex128
}

// IsSupported returns whether dtype is a valid value of the enum.
func (dtype DType) IsSupported() bool {
	_, found := dtypeNames[dtype]
	return found && dtype != InvalidDType
}
