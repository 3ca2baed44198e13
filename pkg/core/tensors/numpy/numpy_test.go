// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package numpy

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/modelarchive/pkg/core/dtypes"
	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func requireNpyRoundTrip(t *testing.T, tensor *tensors.Tensor) *tensors.Tensor {
	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(tensor, &buf))
	recovered, err := FromNpyReader(&buf)
	require.NoError(t, err)
	require.True(t, tensor.Equal(recovered), "recovered %s, want %s", recovered, tensor)
	return recovered
}

func TestNpyRoundTrip(t *testing.T) {
	requireNpyRoundTrip(t, tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 3, 4, 5}, 2, 3))
	requireNpyRoundTrip(t, tensors.FromFlatDataAndDimensions([]int8{-1, 0, 1}, 3))
	requireNpyRoundTrip(t, tensors.FromFlatDataAndDimensions([]bool{true, false, true, true}, 4))
	requireNpyRoundTrip(t, tensors.FromFlatDataAndDimensions([]uint64{1 << 60, 7}, 2, 1))
	requireNpyRoundTrip(t, tensors.FromScalar(3.75))
	requireNpyRoundTrip(t, tensors.FromScalar(float16.Fromfloat32(-0.5)))
	requireNpyRoundTrip(t, tensors.FromScalar(complex64(complex(1, -2))))
}

func TestNpyHeaderAlignment(t *testing.T) {
	// Total header size (magic+version+length+dict) must be a multiple of 16.
	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(tensors.FromScalar(int32(1)), &buf))
	dataStart := buf.Len() - 4
	assert.Zero(t, dataStart%16, "data should start at a 16-byte boundary, starts at %d", dataStart)
}

func TestNpyRejectsMalformed(t *testing.T) {
	_, err := FromNpyReader(bytes.NewReader([]byte("not a numpy file at all")))
	require.Error(t, err)
	_, err = FromNpyReader(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestNpzFileRoundTrip(t *testing.T) {
	tensorsMap := map[string]*tensors.Tensor{
		"dense/kernel": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2),
		"dense/bias":   tensors.FromFlatDataAndDimensions([]float32{0.5, -0.5}, 2),
		"step":         tensors.FromScalar(int64(1000)),
	}
	filePath := filepath.Join(t.TempDir(), "weights.npz")
	require.NoError(t, ToNpzFile(tensorsMap, filePath))

	recovered, err := FromNpzFile(filePath)
	require.NoError(t, err)
	require.Len(t, recovered, len(tensorsMap))
	for name, tensor := range tensorsMap {
		require.Contains(t, recovered, name)
		assert.True(t, tensor.Equal(recovered[name]), "entry %q mismatch", name)
	}
	assert.Equal(t, dtypes.Int64, recovered["step"].DType())
}
