// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stores implements the storage backends a model archive is composed
// of: numeric stores holding the tensors of each node, and a file store
// holding loose asset files.
//
// All stores are addressed by slash-delimited logical paths generated by the
// graph walker; the empty path addresses the store's root. Stores are opened
// either standalone (backed directly by a file or directory) or embedded in a
// zip archive (staged privately and flushed into a single archive member at
// Close).
//
// A read of a path that was never written is not an error: numeric stores
// return an empty map and the disk store reports absence, so that nodes with
// no persisted state load as no-ops.
package stores

import (
	"maps"
	"strings"

	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/pkg/errors"
)

// NumericStore is the uniform contract over the numeric backends
// (HierStore and NpzStore).
type NumericStore interface {
	// Make creates a write location at the given logical path and returns
	// it. Only valid on stores opened for writing.
	Make(path string) (track.Variables, error)

	// Get fetches the tensors stored at the given logical path. A path that
	// was never written yields an empty map, not an error. Only valid on
	// stores opened for reading.
	Get(path string) (map[string]*tensors.Tensor, error)

	// Paths returns the sorted logical paths present in the store.
	Paths() []string

	// Close finalizes the store and releases its resources. For stores
	// embedded in an archive and opened for writing, Close is what
	// materializes the accumulated contents into the archive member.
	Close() error
}

// group is the map-backed track.Variables implementation shared by the
// numeric stores: Make hands one to the node being saved.
type group struct {
	vars map[string]*tensors.Tensor
}

// Set implements track.Variables.
func (g *group) Set(name string, t *tensors.Tensor) error {
	if name == "" {
		return errors.Errorf("variable name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return errors.Errorf("variable name %q cannot contain \"/\"", name)
	}
	if !t.Ok() {
		return errors.Errorf("variable %q: tensor is nil or invalid", name)
	}
	g.vars[name] = t
	return nil
}

// copyVars returns a shallow copy of a path's contents, so callers cannot
// mutate the store's staging area.
func copyVars(vars map[string]*tensors.Tensor) map[string]*tensors.Tensor {
	if vars == nil {
		return make(map[string]*tensors.Tensor)
	}
	return maps.Clone(vars)
}
