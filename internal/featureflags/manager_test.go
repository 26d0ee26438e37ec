package featureflags

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabledBooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")
	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "u1"), name)
	}
	for _, name := range []string{"b", "d", "f"} {
		assert.False(t, m.Enabled(name, "u1"), name)
	}
}

func TestEnabledRollout(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,clamped=250%")
	assert.True(t, m.Enabled("always", "u1"))
	assert.True(t, m.Enabled("always", ""))
	assert.True(t, m.Enabled("clamped", "u1"))
	assert.False(t, m.Enabled("never", "u1"))
	assert.False(t, m.Enabled("canary", ""), "rollout excludes anonymous callers")

	first := m.Enabled("canary", "user-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", "user-42"))
	}

	on := 0
	for i := 0; i < 1000; i++ {
		if m.Enabled("canary", "user-"+strconv.Itoa(i)) {
			on++
		}
	}
	assert.InDelta(t, 250, on, 100)
}

func TestDefaultsAndFallback(t *testing.T) {
	m := NewManager("x=off")
	assert.True(t, m.Enabled(RefetchOnDuplicate, "u1"), "known flag uses its default")
	assert.False(t, m.Enabled("unknown", "u1"))
	assert.True(t, m.EnabledOr("unknown", "u1", true))
	assert.False(t, m.EnabledOr("x", "u1", true), "configured value wins over fallback")

	assert.False(t, NewManager("REFETCH_ON_DUPLICATE = OFF").Enabled(RefetchOnDuplicate, "u1"))

	var nilManager *Manager
	assert.True(t, nilManager.Enabled(RefetchOnDuplicate, "u1"))
	assert.Empty(t, nilManager.Raw())
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off,w=maybe,=on ")

	assert.Equal(t, map[string]string{"x": "on", "y": "20%", "z": "off"}, m.Raw())
	assert.Equal(t, []string{RefetchOnDuplicate, "x", "y", "z"}, m.Names())

	snap := m.Snapshot("u123")
	assert.Len(t, snap, 4)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
	assert.True(t, snap[RefetchOnDuplicate])
}
