// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"

	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Scaler struct {
	Factor float64
}

func (s *Scaler) TrackingAttrs() []track.Attr { return nil }

func (s *Scaler) GetConfig(_ context.Context) map[string]any {
	return map[string]any{"factor": s.Factor}
}

func buildScaler(_ context.Context, config map[string]any) (track.Trackable, error) {
	factor, _ := config["factor"].(float64)
	return &Scaler{Factor: factor}, nil
}

type opaque struct{}

func (o *opaque) TrackingAttrs() []track.Attr { return nil }

func TestSerializeDeserialize(t *testing.T) {
	ctx := context.Background()
	Register("Scaler", buildScaler)

	serialized, err := Serialize(ctx, &Scaler{Factor: 2.5})
	require.NoError(t, err)
	assert.Equal(t, "Scaler", serialized["class_name"])
	assert.Equal(t, map[string]any{"factor": 2.5}, serialized["config"])

	node, err := Deserialize(ctx, serialized, nil)
	require.NoError(t, err)
	scaler, ok := node.(*Scaler)
	require.True(t, ok)
	assert.Equal(t, 2.5, scaler.Factor)
}

func TestSerializeRequiresConfigurable(t *testing.T) {
	_, err := Serialize(context.Background(), &opaque{})
	require.ErrorContains(t, err, "Configurable")
}

func TestDeserializeErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Deserialize(ctx, map[string]any{"config": map[string]any{}}, nil)
	require.ErrorContains(t, err, "class_name")

	_, err = Deserialize(ctx, map[string]any{"class_name": 7}, nil)
	require.ErrorContains(t, err, "must be a string")

	_, err = Deserialize(ctx, map[string]any{"class_name": "NeverRegistered"}, nil)
	require.ErrorContains(t, err, "no builder registered")
}

func TestDeserializeOverridesTakePrecedence(t *testing.T) {
	ctx := context.Background()
	Register("Scaler", buildScaler)

	overridden := &Scaler{Factor: -1}
	overrides := map[string]BuilderFn{
		"Scaler": func(_ context.Context, _ map[string]any) (track.Trackable, error) {
			return overridden, nil
		},
	}
	node, err := Deserialize(ctx, map[string]any{"class_name": "Scaler"}, overrides)
	require.NoError(t, err)
	assert.Same(t, overridden, node)
}
