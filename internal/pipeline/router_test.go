package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterFallback(t *testing.T) {
	r := NewRouter(map[string]int{"a": 1, "b": 2}, "b")

	v, err := r.Route("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = r.Route("missing")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, []string{"a", "b"}, r.Engines())
}

func TestRouterNoFallback(t *testing.T) {
	r := NewRouter(map[string]int{"a": 1}, "z")
	_, err := r.Route("q")
	assert.Error(t, err)
}
