// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type DenseLayer struct{}

func (l *DenseLayer) TrackingAttrs() []Attr { return nil }

type ADAMOptimizer struct{}

func (o *ADAMOptimizer) TrackingAttrs() []Attr { return nil }

type conv2D struct{}

func (c *conv2D) TrackingAttrs() []Attr { return nil }

func TestTypeName(t *testing.T) {
	assert.Equal(t, "DenseLayer", TypeName(&DenseLayer{}))
	assert.Equal(t, "conv2D", TypeName(&conv2D{}))
}

func TestNameForType(t *testing.T) {
	assert.Equal(t, "dense_layer", NameForType(&DenseLayer{}))
	// Runs of capitals stay together except for the last word boundary.
	assert.Equal(t, "adam_optimizer", NameForType(&ADAMOptimizer{}))
	// A digit does not open a new word.
	assert.Equal(t, "conv2d", NameForType(&conv2D{}))
}

func TestShouldSkipAttr(t *testing.T) {
	for _, name := range []string{"weights", "variables", "trainable_weights", "__cache", "__"} {
		assert.True(t, ShouldSkipAttr(name), "%q should be skipped", name)
	}
	for _, name := range []string{"layers", "optimizer", "kernel", "_private", "weightsx"} {
		assert.False(t, ShouldSkipAttr(name), "%q should not be skipped", name)
	}
}

func TestAttrConstructors(t *testing.T) {
	child := &DenseLayer{}
	attr := ChildAttr("encoder", child)
	assert.Equal(t, "encoder", attr.Name)
	assert.Same(t, child, attr.Node)
	assert.Nil(t, attr.Container)

	container := ContainerAttr("layers", child, "not trackable", 42)
	assert.Equal(t, "layers", container.Name)
	assert.Nil(t, container.Node)
	assert.Len(t, container.Container, 3)
}
