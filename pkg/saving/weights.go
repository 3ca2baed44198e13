// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package saving

import (
	"archive/zip"
	"context"
	"strings"

	"github.com/gomlx/modelarchive/pkg/saving/stores"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/gomlx/modelarchive/pkg/support/sets"
	"github.com/pkg/errors"
)

// SaveWeights saves only the numeric state of node and everything reachable
// from it into a standalone ".weights.h5" file: no configuration, no
// metadata, no assets.
func SaveWeights(ctx context.Context, node track.Trackable, filePath string) error {
	if node == nil {
		return errors.Errorf("cannot save weights of a nil node")
	}
	if err := checkExtension(filePath, WeightsExt); err != nil {
		return err
	}
	store, err := stores.NewHierWriter(filePath)
	if err != nil {
		return err
	}
	walkErr := saveState(node, store, nil, "", sets.Make[track.Trackable]())
	closeErr := store.Close()
	if walkErr != nil {
		return walkErr
	}
	return closeErr
}

// LoadWeights restores the numeric state of node and everything reachable
// from it. filePath is either a standalone ".weights.h5" file or a ".keras"
// archive, in which case only the archive's weights member is read.
//
// The node graph must be structurally identical to the one the weights were
// saved from, so that the regenerated logical paths line up. Nodes with no
// state in the file are left untouched.
func LoadWeights(ctx context.Context, node track.Trackable, filePath string) error {
	if node == nil {
		return errors.Errorf("cannot load weights into a nil node")
	}
	store, err := OpenWeights(filePath)
	if err != nil {
		return err
	}
	walkErr := loadState(node, store, nil, "", sets.Make[track.Trackable]())
	closeErr := store.Close()
	if walkErr != nil {
		return walkErr
	}
	return closeErr
}

// OpenWeights opens a numeric store for reading from either a standalone
// ".weights.h5" file or a ".keras" model archive. Callers own the returned
// store and must Close it.
func OpenWeights(filePath string) (stores.NumericStore, error) {
	switch {
	case strings.HasSuffix(filePath, WeightsExt):
		return stores.NewHierReader(filePath)
	case strings.HasSuffix(filePath, ModelExt):
		zipReader, err := zip.OpenReader(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open model archive %q", filePath)
		}
		defer func() { _ = zipReader.Close() }()
		store, err := openArchiveWeights(&zipReader.Reader)
		if err != nil {
			return nil, errors.WithMessagef(err, "model archive %q", filePath)
		}
		return store, nil
	default:
		return nil, errors.Errorf("invalid filename %q: expected a %q or %q file",
			filePath, WeightsExt, ModelExt)
	}
}
