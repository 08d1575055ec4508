package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stagegate/stagegate/api/v1alpha1"
)

type mockProvider struct {
	name   string
	invoke func() v1alpha1.MetricResult
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Invoke(
	context.Context,
	*v1alpha1.Metric,
	*Invocation,
) v1alpha1.MetricResult {
	return m.invoke()
}

func TestRegistry_Register(t *testing.T) {
	t.Run("registers", func(t *testing.T) {
		registry := NewRegistry()
		p := &mockProvider{name: "fake"}
		registry.Register(p)
		assert.Same(t, p, registry["fake"])
	})

	t.Run("overwrites registration", func(t *testing.T) {
		registry := NewRegistry()
		p1 := &mockProvider{name: "fake"}
		registry.Register(p1)
		p2 := &mockProvider{name: "fake"}
		registry.Register(p2)
		assert.NotSame(t, p1, registry["fake"])
		assert.Same(t, p2, registry["fake"])
	})
}

func TestRegistry_Get(t *testing.T) {
	t.Run("registration exists", func(t *testing.T) {
		registry := NewRegistry()
		p := &mockProvider{name: "fake"}
		registry.Register(p)
		assert.Same(t, p, registry.Get("fake"))
	})

	t.Run("registration does not exist", func(t *testing.T) {
		assert.Nil(t, NewRegistry().Get("nonexistent"))
	})
}
