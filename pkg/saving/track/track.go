// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package track defines the contract an object must fulfill to participate in
// the model persistence graph: the "trackable" analogs of layers, optimizers,
// losses and metrics.
//
// A Trackable declares its children explicitly, with TrackingAttrs: an
// ordered list of named attributes, each either a direct child node or a
// container whose elements are scanned for child nodes. The declaration order
// is a contract of the node type: the same type must always declare the same
// attributes in the same order, since the attribute names become the "logical
// paths" that address the node's persisted state, and those paths are
// regenerated -- never stored -- when loading.
//
// What a node persists is defined by the optional capability interfaces
// StateSaver/StateLoader (numeric state) and AssetSaver/AssetLoader (loose
// files). A node that implements none of them is still traversed, serving
// purely as structure.
//
// Trackable implementations must be comparable (in practice: pointer
// receivers); identity comparison is what keeps a node shared by multiple
// attributes from being visited twice.
package track

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/gomlx/modelarchive/pkg/core/tensors"
	"github.com/gomlx/modelarchive/pkg/support/sets"
)

// Trackable is any object participating in the persistence graph.
type Trackable interface {
	// TrackingAttrs returns the node's declared attributes, in a stable order.
	TrackingAttrs() []Attr
}

// Attr is one declared attribute of a Trackable: either a direct child node
// (Node != nil) or a container of candidate child nodes (Container != nil).
// At most one of the two is set.
type Attr struct {
	// Name becomes the path segment addressing the child's state.
	Name string

	// Node is a directly referenced child.
	Node Trackable

	// Container holds elements that are scanned, in order, for Trackable
	// values. Non-Trackable elements are ignored. For mapping-like
	// attributes, declare the values in a deterministic order; keys are
	// never used for addressing.
	Container []any
}

// ChildAttr returns an Attr declaring a direct child node.
func ChildAttr(name string, node Trackable) Attr {
	return Attr{Name: name, Node: node}
}

// ContainerAttr returns an Attr declaring a container of candidate children.
func ContainerAttr(name string, elements ...any) Attr {
	return Attr{Name: name, Container: elements}
}

// Variables is the write location handed to a node saving its numeric state:
// a mutable group of named tensors.
type Variables interface {
	// Set stores the tensor under the given name. Names must not contain "/".
	Set(name string, t *tensors.Tensor) error
}

// StateSaver is implemented by nodes with own numeric state to persist.
type StateSaver interface {
	// SaveOwnState writes the node's tensors into vars.
	SaveOwnState(vars Variables) error
}

// StateLoader is implemented by nodes with own numeric state to restore.
type StateLoader interface {
	// LoadOwnState restores the node's tensors from vars. An empty map means
	// nothing was persisted for this node, and must be treated as "keep
	// defaults", not as an error.
	LoadOwnState(vars map[string]*tensors.Tensor) error
}

// AssetSaver is implemented by nodes with auxiliary file assets to persist.
type AssetSaver interface {
	// SaveOwnAssets writes the node's asset files under dir.
	SaveOwnAssets(dir string) error
}

// AssetLoader is implemented by nodes with auxiliary file assets to restore.
type AssetLoader interface {
	// LoadOwnAssets restores the node's assets from dir. An empty dir means
	// no assets were persisted for this node.
	LoadOwnAssets(dir string) error
}

// Builder is implemented by nodes that distinguish a built (materialized)
// state -- saving an unbuilt model triggers a warning.
type Builder interface {
	Built() bool
}

// AttrSkipList holds the attribute names that must never be traversed, even
// if declared: aliasing or derived views ("weights" of a layer is the
// flattened view of states owned elsewhere) that would duplicate
// already-visited nodes.
var AttrSkipList = sets.MakeWith(
	"inbound_nodes",
	"non_trainable_variables",
	"non_trainable_weights",
	"outbound_nodes",
	"state_updates",
	"submodules",
	"trainable_variables",
	"trainable_weights",
	"updates",
	"variables",
	"weights",
)

// ShouldSkipAttr returns whether an attribute name is excluded from
// traversal: names carrying the reserved "__" prefix and names in
// AttrSkipList.
func ShouldSkipAttr(name string) bool {
	return strings.HasPrefix(name, "__") || AttrSkipList.Has(name)
}

// TypeName returns the bare Go type name of the node, with any pointer
// indirection removed. E.g. a `*DenseLayer` node yields "DenseLayer".
func TypeName(node Trackable) string {
	t := reflect.TypeOf(node)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// NameForType returns the path segment used to address container elements:
// the snake_case form of the node's type name. Deliberately NOT a node's own
// "name" property, since those are usually autogenerated and not reproducible
// across two instances of the same model.
func NameForType(node Trackable) string {
	return toSnakeCase(TypeName(node))
}

var (
	regexpSnakeCase1 = regexp.MustCompile(`(.)([A-Z][a-z0-9]+)`)
	regexpSnakeCase2 = regexp.MustCompile(`([a-z])([A-Z])`)
)

// toSnakeCase converts a CamelCase type name to snake_case.
func toSnakeCase(name string) string {
	name = regexpSnakeCase1.ReplaceAllString(name, "${1}_${2}")
	name = regexpSnakeCase2.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(name)
}
