package config

import (
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// ChangeSet is the set of dotted paths that differ between two trees.
// Objects are compared member by member; arrays and scalars are leaves.
type ChangeSet map[string]struct{}

// Diff computes the paths that changed between prev and next. A nil prev
// marks every top-level key of next as changed.
func Diff(prev, next *Tree) ChangeSet {
	changes := ChangeSet{}
	var a, b map[string]any
	if prev != nil {
		a = prev.root
	}
	if next != nil {
		b = next.root
	}
	if a == nil {
		for k := range b {
			changes[k] = struct{}{}
		}
		return changes
	}
	if b == nil {
		b = map[string]any{}
	}
	r := &pathReporter{changes: changes}
	cmp.Equal(a, b, cmp.Reporter(r))
	return changes
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Touches reports whether any changed path equals, contains or lies under
// one of paths.
func (c ChangeSet) Touches(paths ...string) bool {
	for changed := range c {
		for _, p := range paths {
			if changed == p ||
				strings.HasPrefix(changed, p+".") ||
				strings.HasPrefix(p, changed+".") {
				return true
			}
		}
	}
	return false
}

// Paths returns the changed paths sorted.
func (c ChangeSet) Paths() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// pathReporter records the object path of every unequal leaf cmp visits.
type pathReporter struct {
	steps   []cmp.PathStep
	changes ChangeSet
}

func (r *pathReporter) PushStep(ps cmp.PathStep) {
	r.steps = append(r.steps, ps)
}

func (r *pathReporter) PopStep() {
	r.steps = r.steps[:len(r.steps)-1]
}

func (r *pathReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	var keys []string
	for _, step := range r.steps {
		switch s := step.(type) {
		case cmp.MapIndex:
			keys = append(keys, s.Key().String())
		case cmp.SliceIndex:
			r.changes[strings.Join(keys, ".")] = struct{}{}
			return
		}
	}
	r.changes[strings.Join(keys, ".")] = struct{}{}
}
