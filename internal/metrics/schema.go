// Package metrics describes the process and thread metric snapshots and the
// static schema every exporter walks to render them.
package metrics

// Kind says how a field's value evolves between samples.
type Kind int

const (
	// Gauge values are exported as sampled.
	Gauge Kind = iota
	// Counter values only grow; exporters receive the difference between
	// two consecutive samples.
	Counter
)

func (k Kind) String() string {
	if k == Counter {
		return "counter"
	}
	return "gauge"
}

// Desc identifies one schema field.
type Desc struct {
	Name string
	Kind Kind
	Unit string
}

// Field is a schema entry reading one value out of a snapshot of type S.
type Field[S any] struct {
	Desc
	Value func(s *S) float64
}

// Visitor receives every field of a walked snapshot.
type Visitor interface {
	Visit(d Desc, value float64)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(d Desc, value float64)

func (f VisitorFunc) Visit(d Desc, value float64) { f(d, value) }

// Walk visits every field of cur in schema order. Gauges are passed
// through. Counters are passed as cur minus prev; with no previous sample
// the delta is zero. A counter that went backwards was reset by its
// producer, so its current value is the delta.
func Walk[S any](schema []Field[S], cur, prev *S, v Visitor) {
	for i := range schema {
		f := &schema[i]
		value := f.Value(cur)
		if f.Kind == Counter {
			value = delta(value, prev, f)
		}
		v.Visit(f.Desc, value)
	}
}

func delta[S any](cur float64, prev *S, f *Field[S]) float64 {
	if prev == nil {
		return 0
	}
	before := f.Value(prev)
	if cur < before {
		return cur
	}
	return cur - before
}

// Lookup returns the schema field called name.
func Lookup[S any](schema []Field[S], name string) (Field[S], bool) {
	for _, f := range schema {
		if f.Name == name {
			return f, true
		}
	}
	return Field[S]{}, false
}
