// Package config holds the agent's configuration tree, the store of the
// last applied tree and the structural diff between two trees.
package config

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tree is an immutable snapshot of a JSON configuration document.
type Tree struct {
	root map[string]any
}

// Parse decodes a JSON object into a Tree.
func Parse(data []byte) (*Tree, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrInvalidConfig, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: document is not an object", internalerrors.ErrInvalidConfig)
	}
	return &Tree{root: root}, nil
}

// NewTree builds a Tree from a copy of m.
func NewTree(m map[string]any) *Tree {
	root, _ := deepCopy(m).(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	return &Tree{root: root}
}

// Map returns a deep copy of the tree contents.
func (t *Tree) Map() map[string]any {
	if t == nil {
		return map[string]any{}
	}
	m, _ := deepCopy(t.root).(map[string]any)
	return m
}

// Get looks up a dotted path such as "tracing.enabled".
func (t *Tree) Get(path string) (any, bool) {
	if t == nil {
		return nil, false
	}
	var node any = t.root
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Has reports whether path is present and not null.
func (t *Tree) Has(path string) bool {
	v, ok := t.Get(path)
	return ok && v != nil
}

// String returns the value at path as a string, or def.
func (t *Tree) String(path, def string) string {
	v, ok := t.Get(path)
	if !ok || v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Int returns the value at path as an int, or def.
func (t *Tree) Int(path string, def int) int {
	v, ok := t.Get(path)
	if !ok || v == nil {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// Bool returns the value at path as a bool, or def.
func (t *Tree) Bool(path string, def bool) bool {
	v, ok := t.Get(path)
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Milliseconds returns a numeric value at path interpreted as milliseconds.
func (t *Tree) Milliseconds(path string, def time.Duration) time.Duration {
	ms := t.Int(path, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// StringSlice returns the value at path as a list of strings. A single
// string is split on commas.
func (t *Tree) StringSlice(path string) []string {
	v, ok := t.Get(path)
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = deepCopy(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = deepCopy(item)
		}
		return s
	default:
		return val
	}
}
