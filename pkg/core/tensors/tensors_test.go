// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/modelarchive/pkg/core/dtypes"
	"github.com/gomlx/modelarchive/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{0, 1, 2, 3, 4, 5}, 2, 3)
	require.True(t, tensor.Ok())
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, CopyFlatData[float32](tensor))

	require.Panics(t, func() {
		FromFlatDataAndDimensions([]float32{0, 1, 2}, 2, 3)
	})
}

func TestFromScalarAndToScalar(t *testing.T) {
	tensor := FromScalar(int64(-7))
	require.True(t, tensor.IsScalar())
	assert.Equal(t, dtypes.Int64, tensor.DType())
	assert.Equal(t, int64(-7), ToScalar[int64](tensor))

	f16 := FromScalar(float16.Fromfloat32(1.5))
	assert.Equal(t, dtypes.Float16, f16.DType())
	assert.Equal(t, float32(1.5), ToScalar[float16.Float16](f16).Float32())

	b := FromScalar(true)
	assert.Equal(t, dtypes.Bool, b.DType())
	assert.Equal(t, true, ToScalar[bool](b))
}

func TestFromBytes(t *testing.T) {
	shape := shapes.Make(dtypes.Float64, 2)
	tensor, err := FromBytes(shape, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, CopyFlatData[float64](tensor))

	_, err = FromBytes(shape, make([]byte, 15))
	require.Error(t, err)

	_, err = FromBytes(shapes.Invalid(), nil)
	require.Error(t, err)
}

func TestEqualAndClone(t *testing.T) {
	a := FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	c := FromFlatDataAndDimensions([]int32{1, 2, 4}, 3)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(FromFlatDataAndDimensions([]int32{1, 2, 3}, 3, 1)))

	clone := a.Clone()
	assert.True(t, a.Equal(clone))
	clone.MutableBytes(func(data []byte) { data[0] = 99 })
	assert.False(t, a.Equal(clone))
}
