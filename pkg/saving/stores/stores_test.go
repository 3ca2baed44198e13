// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stores

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kernelTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
}

func fillStore(t *testing.T, store NumericStore) {
	root := must.M1(store.Make(""))
	require.NoError(t, root.Set("step", tensors.FromScalar(int64(42))))

	dense := must.M1(store.Make("layers/dense"))
	require.NoError(t, dense.Set("kernel", kernelTensor()))
	require.NoError(t, dense.Set("bias", tensors.FromFlatDataAndDimensions([]float32{0, -1}, 2)))

	// A group with no variables still round-trips as present-but-empty.
	must.M1(store.Make("layers/dropout"))
}

func checkStore(t *testing.T, store NumericStore) {
	assert.Equal(t, []string{"", "layers/dense", "layers/dropout"}, store.Paths())

	root := must.M1(store.Get(""))
	require.Contains(t, root, "step")
	assert.Equal(t, int64(42), tensors.ToScalar[int64](root["step"]))

	dense := must.M1(store.Get("layers/dense"))
	require.Len(t, dense, 2)
	assert.True(t, kernelTensor().Equal(dense["kernel"]))

	// A path never written resolves to an empty map, not an error.
	missing, err := store.Get("layers/nothing_here")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestHierStoreFileRoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "model.weights.h5")
	writer := must.M1(NewHierWriter(filePath))
	fillStore(t, writer)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close(), "closing twice must be a no-op")

	reader := must.M1(NewHierReader(filePath))
	checkStore(t, reader)
	require.NoError(t, reader.Close())
}

func TestHierStoreIsDeterministic(t *testing.T) {
	write := func() []byte {
		filePath := filepath.Join(t.TempDir(), "model.weights.h5")
		writer := must.M1(NewHierWriter(filePath))
		fillStore(t, writer)
		require.NoError(t, writer.Close())
		return must.M1(os.ReadFile(filePath))
	}
	assert.Equal(t, write(), write())
}

func TestHierStoreArchiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	store := NewHierArchiveWriter(zipWriter, "variables.weights.h5")
	fillStore(t, store)
	require.NoError(t, store.Close())
	require.NoError(t, zipWriter.Close())

	zipReader := must.M1(zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	require.Len(t, zipReader.File, 1)
	member := must.M1(zipReader.File[0].Open())
	defer func() { _ = member.Close() }()
	reader := must.M1(NewHierArchiveReader(member))
	checkStore(t, reader)
	require.NoError(t, reader.Close())
}

func TestHierStoreModeErrors(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "model.weights.h5")
	writer := must.M1(NewHierWriter(filePath))
	_, err := writer.Get("anything")
	require.Error(t, err, "Get is a read-mode operation")
	require.NoError(t, writer.Close())

	reader := must.M1(NewHierReader(filePath))
	_, err = reader.Make("anything")
	require.Error(t, err, "Make is a write-mode operation")
	require.NoError(t, reader.Close())
}

func TestHierStoreRejectsTruncated(t *testing.T) {
	_, err := NewHierArchiveReader(bytes.NewReader([]byte{1, 2, 3}))
	require.ErrorContains(t, err, "truncated")
}

func TestNpzStoreFileRoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "model.weights.npz")
	writer := NewNpzWriter(filePath)
	fillStore(t, writer)
	require.NoError(t, writer.Close())

	reader := must.M1(NewNpzReader(filePath))
	// The flat encoding cannot represent a group with no variables, so only
	// the non-empty group paths survive.
	assert.Equal(t, []string{"", "layers/dense"}, reader.Paths())

	root := must.M1(reader.Get(""))
	assert.Equal(t, int64(42), tensors.ToScalar[int64](root["step"]))
	dense := must.M1(reader.Get("layers/dense"))
	assert.True(t, kernelTensor().Equal(dense["kernel"]))

	missing, err := reader.Get("never/written")
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.NoError(t, reader.Close())
}

func TestNpzStoreGetReturnsCopies(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "model.weights.npz")
	writer := NewNpzWriter(filePath)
	fillStore(t, writer)
	require.NoError(t, writer.Close())

	reader := must.M1(NewNpzReader(filePath))
	first := must.M1(reader.Get("layers/dense"))
	delete(first, "kernel")
	second := must.M1(reader.Get("layers/dense"))
	assert.Contains(t, second, "kernel")
	require.NoError(t, reader.Close())
}

func TestGroupSetValidation(t *testing.T) {
	store := NewNpzWriter(filepath.Join(t.TempDir(), "model.weights.npz"))
	vars := must.M1(store.Make(""))
	require.ErrorContains(t, vars.Set("", kernelTensor()), "empty")
	require.ErrorContains(t, vars.Set("a/b", kernelTensor()), "/")
	require.ErrorContains(t, vars.Set("kernel", nil), "invalid")
	require.NoError(t, store.Close())
}

func TestDiskStoreRoundTripAndCleanup(t *testing.T) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	writer := must.M1(NewDiskWriter(zipWriter, "assets"))

	rootDir := must.M1(writer.Make(""))
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "manifest.txt"), []byte("root"), 0644))
	subDir := must.M1(writer.Make("layers/lookup"))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "vocab.txt"), []byte("a\nb\n"), 0644))

	stagingDir := rootDir
	require.NoError(t, writer.Close())
	require.NoError(t, zipWriter.Close())
	_, err := os.Stat(stagingDir)
	require.True(t, os.IsNotExist(err), "staging dir must be removed at Close")

	zipReader := must.M1(zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	names := make([]string, 0, len(zipReader.File))
	for _, f := range zipReader.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"assets/manifest.txt", "assets/layers/lookup/vocab.txt"}, names)

	reader := must.M1(NewDiskReader(zipReader, "assets"))
	extractedDir := ""
	dir, found := reader.Get("layers/lookup")
	require.True(t, found)
	extractedDir = dir
	content := must.M1(os.ReadFile(filepath.Join(dir, "vocab.txt")))
	assert.Equal(t, "a\nb\n", string(content))

	_, found = reader.Get("never/stored")
	assert.False(t, found)

	require.NoError(t, reader.Close())
	_, err = os.Stat(extractedDir)
	require.True(t, os.IsNotExist(err), "extraction dir must be removed at Close")
}

func TestDiskStoreDirReader(t *testing.T) {
	rootDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootDir, "tokenizer"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "tokenizer", "merges.txt"), []byte("x"), 0644))

	reader := NewDiskDirReader(rootDir)
	dir, found := reader.Get("tokenizer")
	require.True(t, found)
	assert.Equal(t, filepath.Join(rootDir, "tokenizer"), dir)

	require.NoError(t, reader.Close())
	_, err := os.Stat(rootDir)
	require.NoError(t, err, "a caller-owned directory must be left in place")
}

func TestDiskStoreRejectsUnsafePaths(t *testing.T) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	w := must.M1(zipWriter.Create("assets/../../escape.txt"))
	_, _ = w.Write([]byte("nope"))
	require.NoError(t, zipWriter.Close())

	zipReader := must.M1(zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	_, err := NewDiskReader(zipReader, "assets")
	require.ErrorContains(t, err, "unsafe")
}
