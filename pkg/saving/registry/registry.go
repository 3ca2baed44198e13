// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package registry turns trackable nodes into JSON-compatible configuration
// structures and back.
//
// Serialization is capability-based: a node exposes its constructor arguments
// with Configurable.GetConfig, and Serialize wraps them with the node's class
// name. Deserialize looks the class name up in a process-wide registry of
// builders (populated with Register, typically from init functions), or in
// the per-call overrides given to it -- the equivalent of "custom objects"
// passed to a model load.
//
// The walker treats this package as a black box: whatever GetConfig returns
// must survive a JSON round-trip (maps, slices, strings, numbers, booleans),
// and the builder for a class is responsible for reconstructing its own
// children from the nested configurations.
package registry

import (
	"context"
	"sync"

	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/pkg/errors"
)

// Configurable is the capability a node needs to take part in full-model
// saving: exposing its constructor configuration.
// Nodes without it can still be traversed for weights-only operations.
type Configurable interface {
	track.Trackable

	// GetConfig returns the node's constructor arguments as a
	// JSON-compatible structure. The ctx is the operation context -- see
	// saving.SavingActive.
	GetConfig(ctx context.Context) map[string]any
}

// BuilderFn reconstructs a node of one class from its configuration.
type BuilderFn func(ctx context.Context, config map[string]any) (track.Trackable, error)

var (
	muRegistry sync.Mutex
	builders   = make(map[string]BuilderFn)
)

// Register adds a builder for the given class name, usually from an init
// function of the package defining the node type. Registering the same class
// name twice overwrites the previous builder.
func Register(className string, builder BuilderFn) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	builders[className] = builder
}

// lookup returns the registered builder for className, if any.
func lookup(className string) (BuilderFn, bool) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	builder, found := builders[className]
	return builder, found
}

// Serialize returns the JSON-compatible serialized form of the node:
// `{"class_name": ..., "config": {...}}`. The class name is the node's Go
// type name (see track.TypeName), the same key Deserialize resolves builders
// with.
func Serialize(ctx context.Context, node track.Trackable) (map[string]any, error) {
	configurable, ok := node.(Configurable)
	if !ok {
		return nil, errors.Errorf("node of type %q does not implement registry.Configurable, cannot serialize its configuration",
			track.TypeName(node))
	}
	return map[string]any{
		"class_name": track.TypeName(node),
		"config":     configurable.GetConfig(ctx),
	}, nil
}

// Deserialize reconstructs a node from its serialized form. Builders in
// overrides take precedence over the process-wide registry; pass nil if there
// are no overrides.
func Deserialize(ctx context.Context, serialized map[string]any, overrides map[string]BuilderFn) (track.Trackable, error) {
	classNameAny, found := serialized["class_name"]
	if !found {
		return nil, errors.Errorf("serialized configuration is missing \"class_name\"")
	}
	className, ok := classNameAny.(string)
	if !ok {
		return nil, errors.Errorf("serialized \"class_name\" must be a string, got %T", classNameAny)
	}

	var config map[string]any
	if configAny, found := serialized["config"]; found && configAny != nil {
		config, ok = configAny.(map[string]any)
		if !ok {
			return nil, errors.Errorf("serialized \"config\" for class %q must be a mapping, got %T", className, configAny)
		}
	}

	builder, found := overrides[className]
	if !found {
		builder, found = lookup(className)
	}
	if !found {
		return nil, errors.Errorf("no builder registered for class %q -- register it with registry.Register or pass it as an override", className)
	}
	node, err := builder(ctx, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "building node of class %q from its configuration", className)
	}
	return node, nil
}
