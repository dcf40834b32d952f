package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
)

func TestParse(t *testing.T) {
	tree, err := Parse([]byte(`{
		"statsd": "tcp://10.0.0.5",
		"interval": 5000,
		"pauseMetrics": false,
		"tags": ["a", "b"],
		"tracing": {"enabled": true, "blacklist": 2}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5", tree.String("statsd", ""))
	assert.Equal(t, 5000, tree.Int("interval", 0))
	assert.Equal(t, 5*time.Second, tree.Milliseconds("interval", 0))
	assert.False(t, tree.Bool("pauseMetrics", true))
	assert.Equal(t, []string{"a", "b"}, tree.StringSlice("tags"))
	assert.True(t, tree.Bool("tracing.enabled", false))
	assert.Equal(t, 2, tree.Int("tracing.blacklist", 0))

	assert.Equal(t, "fallback", tree.String("missing", "fallback"))
	assert.Equal(t, 3, tree.Int("statsd", 3))
	assert.False(t, tree.Has("tracing.enabled.deeper"))
}

func TestParse_Invalid(t *testing.T) {
	for _, doc := range []string{`not json`, `[1,2]`, `null`} {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, internalerrors.ErrInvalidConfig, doc)
	}
}

func TestStringSlice_CommaSeparated(t *testing.T) {
	tree := NewTree(map[string]any{"tags": "a, b,,c"})
	assert.Equal(t, []string{"a", "b", "c"}, tree.StringSlice("tags"))
}

func TestNewTree_IsACopy(t *testing.T) {
	src := map[string]any{"nested": map[string]any{"k": "v"}}
	tree := NewTree(src)
	src["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", tree.String("nested.k", ""))
}

func TestNilTree(t *testing.T) {
	var tree *Tree
	_, ok := tree.Get("anything")
	assert.False(t, ok)
	assert.Equal(t, 7, tree.Int("x", 7))
	assert.Empty(t, tree.Map())
}
