// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package saving persists trackable object graphs (see pkg/saving/track) to
// model archives and restores them.
//
// A full model save produces a ".keras" zip archive bundling the root node's
// configuration (config.json), save metadata (metadata.json), a numeric
// weights store (variables.weights.h5 or .npz, selectable per save) and an
// assets/ directory tree with whatever loose files the nodes wrote.
// Weights-only saves produce a single standalone ".weights.h5" file.
//
// Saving and loading walk the graph recursively, addressing each node by a
// slash-delimited logical path derived from the declared attribute names
// (and, inside containers, from snake_case type names with "_1", "_2"
// disambiguation). Paths are never stored: they are regenerated on load, so
// node types must declare their attributes in a stable order. A visited-set
// keyed on node identity makes shared references and reference cycles safe;
// each node is persisted and restored exactly once, at its first encounter.
package saving

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Version is recorded in the archive metadata of every full-model save.
const Version = "0.1.0"

// dateSavedLayout formats the metadata save timestamp.
const dateSavedLayout = "2006-01-02@15:04:05"

// WeightsFormat selects the numeric store backend of a full-model save.
type WeightsFormat string

const (
	// WeightsH5 is the hierarchical store, the default.
	WeightsH5 WeightsFormat = "h5"
	// WeightsNpz is the flat .npz store.
	WeightsNpz WeightsFormat = "npz"
)

// Archive member names and file extensions.
const (
	ModelExt   = ".keras"
	WeightsExt = ".weights.h5"

	metadataMember   = "metadata.json"
	configMember     = "config.json"
	weightsH5Member  = "variables.weights.h5"
	weightsNpzMember = "variables.weights.npz"
	assetsRoot       = "assets"
)

// weightsMemberForFormat resolves a format tag to its archive member name.
// Unknown formats are a usage error, reported before any file is touched.
func weightsMemberForFormat(format WeightsFormat) (string, error) {
	switch format {
	case WeightsH5:
		return weightsH5Member, nil
	case WeightsNpz:
		return weightsNpzMember, nil
	default:
		return "", errors.Errorf("unknown weights format %q, expected %q or %q",
			format, WeightsH5, WeightsNpz)
	}
}

// checkExtension errors if filePath does not carry the wanted suffix.
func checkExtension(filePath, wantExt string) error {
	if !strings.HasSuffix(filePath, wantExt) {
		return errors.Errorf("invalid filename %q: expected a %q file", filePath, wantExt)
	}
	return nil
}

// ctxKeySavingActive marks a context during a save or load operation.
type ctxKeyType int

const ctxKeySavingActive ctxKeyType = iota

// WithSavingActive returns a context marked as being inside a save or load
// operation. The operations apply it themselves; it is exported so tests and
// nested integrations can simulate the scope.
func WithSavingActive(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeySavingActive, true)
}

// SavingActive reports whether ctx is inside a save or load operation.
// Node hooks (registry.Configurable.GetConfig, builders) receive the
// operation context and can branch on this, e.g. to serialize by reference
// outside of saving and by value inside.
func SavingActive(ctx context.Context) bool {
	active, _ := ctx.Value(ctxKeySavingActive).(bool)
	return active
}
