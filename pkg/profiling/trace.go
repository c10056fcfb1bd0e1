package profiling

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Trace is a named span with nested child spans.
type Trace struct {
	Name     string
	Start    time.Time
	End      time.Time
	Children []*Trace
}

// InitTrace starts a span.
func InitTrace(name string) *Trace {
	return &Trace{Name: name, Start: time.Now()}
}

// Finish ends the span, unless it already ended, and attaches it to parent
// when parent is not nil.
func (t *Trace) Finish(parent *Trace) {
	if t.End.IsZero() {
		t.End = time.Now()
	}
	if parent != nil {
		parent.Children = append(parent.Children, t)
	}
}

// Duration returns the span length, or the time since Start while the span
// is still open.
func (t *Trace) Duration() time.Duration {
	if t.End.IsZero() {
		return time.Since(t.Start)
	}
	return t.End.Sub(t.Start)
}

// Span is one row of a flattened trace. Parent is 0 for the root; IDs
// start at 1.
type Span struct {
	ID       int
	Parent   int
	Name     string
	Depth    int
	Duration time.Duration
}

// Flatten lists the spans of t depth first.
func (t *Trace) Flatten() []Span {
	var spans []Span
	var walk func(tr *Trace, parent, depth int)
	walk = func(tr *Trace, parent, depth int) {
		id := len(spans) + 1
		spans = append(spans, Span{ID: id, Parent: parent, Name: tr.Name, Depth: depth, Duration: tr.Duration()})
		for _, c := range tr.Children {
			walk(c, id, depth+1)
		}
	}
	walk(t, 0, 0)
	return spans
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (t *Trace) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", t.Name)
	enc.AddDuration("duration", t.Duration())
	if len(t.Children) == 0 {
		return nil
	}
	return enc.AddArray("children", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, c := range t.Children {
			if err := arr.AppendObject(c); err != nil {
				return err
			}
		}
		return nil
	}))
}
