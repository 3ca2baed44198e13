// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package saving

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/modelarchive/pkg/saving/stores"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/gomlx/modelarchive/pkg/support/sets"
	"github.com/pkg/errors"
)

// visitedSet guards one save or load operation against revisiting a node
// reachable through multiple attributes, and against reference cycles. It is
// keyed on node identity and discarded when the operation returns.
type visitedSet = sets.Set[track.Trackable]

// isNilNode reports whether node is nil, including a nil pointer declared
// through the Trackable interface.
func isNilNode(node track.Trackable) bool {
	if node == nil {
		return true
	}
	v := reflect.ValueOf(node)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// joinPath appends a segment to a slash-delimited logical path. The empty
// path is the root.
func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "/" + name
}

// callHook runs a node hook, converting both returned errors and panics
// (exceptions-style error panics) into a wrapped error carrying the node's
// logical path.
func callHook(kind, path string, hook func() error) error {
	var hookErr error
	err := exceptions.TryCatch[error](func() { hookErr = hook() })
	if err == nil {
		err = hookErr
	}
	if err != nil {
		return errors.WithMessagef(err, "%s failed for node at %q", kind, path)
	}
	return nil
}

// saveState recursively persists node and its declared children.
// numericStore and assetStore may each be nil, in which case the respective
// hooks are not invoked (weights-only saves carry no asset store).
func saveState(node track.Trackable, numericStore stores.NumericStore,
	assetStore *stores.DiskStore, path string, visited visitedSet) error {
	if isNilNode(node) || visited.Has(node) {
		return nil
	}
	if numericStore != nil {
		if saver, ok := node.(track.StateSaver); ok {
			vars, err := numericStore.Make(path)
			if err != nil {
				return err
			}
			if err = callHook("saving state", path, func() error {
				return saver.SaveOwnState(vars)
			}); err != nil {
				return err
			}
		}
	}
	if assetStore != nil {
		if saver, ok := node.(track.AssetSaver); ok {
			dir, err := assetStore.Make(path)
			if err != nil {
				return err
			}
			if err = callHook("saving assets", path, func() error {
				return saver.SaveOwnAssets(dir)
			}); err != nil {
				return err
			}
		}
	}
	visited.Insert(node)

	for _, attr := range node.TrackingAttrs() {
		if track.ShouldSkipAttr(attr.Name) {
			continue
		}
		attrPath := joinPath(path, attr.Name)
		if attr.Node != nil {
			if err := saveState(attr.Node, numericStore, assetStore, attrPath, visited); err != nil {
				return err
			}
		} else if attr.Container != nil {
			if err := saveContainerState(attr.Container, numericStore, assetStore, attrPath, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadState is the mirror of saveState: it restores node and its declared
// children, regenerating the same logical paths. State or assets absent from
// the stores load as no-ops.
func loadState(node track.Trackable, numericStore stores.NumericStore,
	assetStore *stores.DiskStore, path string, visited visitedSet) error {
	if isNilNode(node) || visited.Has(node) {
		return nil
	}
	if numericStore != nil {
		if loader, ok := node.(track.StateLoader); ok {
			vars, err := numericStore.Get(path)
			if err != nil {
				return err
			}
			if err = callHook("loading state", path, func() error {
				return loader.LoadOwnState(vars)
			}); err != nil {
				return err
			}
		}
	}
	if assetStore != nil {
		if loader, ok := node.(track.AssetLoader); ok {
			// Absent assets resolve to the empty dir, not an error.
			dir, _ := assetStore.Get(path)
			if err := callHook("loading assets", path, func() error {
				return loader.LoadOwnAssets(dir)
			}); err != nil {
				return err
			}
		}
	}
	visited.Insert(node)

	for _, attr := range node.TrackingAttrs() {
		if track.ShouldSkipAttr(attr.Name) {
			continue
		}
		attrPath := joinPath(path, attr.Name)
		if attr.Node != nil {
			if err := loadState(attr.Node, numericStore, assetStore, attrPath, visited); err != nil {
				return err
			}
		} else if attr.Container != nil {
			if err := loadContainerState(attr.Container, numericStore, assetStore, attrPath, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// containerElementName names a container element from its type: the
// snake_case type name for the first occurrence, then "_1", "_2" suffixes in
// encounter order, tracked per base name in usedNames. Collision counting is
// keyed on the base name, so two interleaved types each get their own suffix
// sequences.
func containerElementName(child track.Trackable, usedNames map[string]int) string {
	name := track.NameForType(child)
	if count, seen := usedNames[name]; seen {
		usedNames[name] = count + 1
		return fmt.Sprintf("%s_%d", name, count+1)
	}
	usedNames[name] = 0
	return name
}

// saveContainerState persists the trackable elements of a container.
// Non-trackable elements are skipped and consume no name.
func saveContainerState(container []any, numericStore stores.NumericStore,
	assetStore *stores.DiskStore, path string, visited visitedSet) error {
	usedNames := make(map[string]int)
	for _, element := range container {
		child, ok := element.(track.Trackable)
		if !ok || isNilNode(child) {
			continue
		}
		// A repeated instance consumes no name: only its first encounter
		// produces a path.
		if visited.Has(child) {
			continue
		}
		name := containerElementName(child, usedNames)
		if err := saveState(child, numericStore, assetStore, joinPath(path, name), visited); err != nil {
			return err
		}
	}
	return nil
}

// loadContainerState is the mirror of saveContainerState; because the
// counters advance identically over a structurally matching container, the
// regenerated element names line up with the saved ones.
func loadContainerState(container []any, numericStore stores.NumericStore,
	assetStore *stores.DiskStore, path string, visited visitedSet) error {
	usedNames := make(map[string]int)
	for _, element := range container {
		child, ok := element.(track.Trackable)
		if !ok || isNilNode(child) {
			continue
		}
		if visited.Has(child) {
			continue
		}
		name := containerElementName(child, usedNames)
		if err := loadState(child, numericStore, assetStore, joinPath(path, name), visited); err != nil {
			return err
		}
	}
	return nil
}
