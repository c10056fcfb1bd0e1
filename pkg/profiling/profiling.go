// Package profiling accumulates timings: timers, counters reporting
// average and standard deviation, a pool of named counters and nested
// traces of one run.
package profiling

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Timer measures the time since it was started.
type Timer struct {
	start time.Time
}

// Start returns a running timer.
func Start() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the time since Start.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Counter accumulates samples, in seconds for durations. The zero value is
// ready to use and a Counter is safe for concurrent use.
type Counter struct {
	mu    sync.Mutex
	n     int
	sum   float64
	sumSq float64
}

// Add records one sample.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.sum += v
	c.sumSq += v * v
}

// AddDuration records d in seconds.
func (c *Counter) AddDuration(d time.Duration) {
	c.Add(d.Seconds())
}

// AddTimer records the time elapsed on t.
func (c *Counter) AddTimer(t Timer) {
	c.AddDuration(t.Elapsed())
}

// Samples returns the number of recorded samples.
func (c *Counter) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Average returns the mean sample, or 0 without samples.
func (c *Counter) Average() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.average()
}

func (c *Counter) average() float64 {
	if c.n == 0 {
		return 0
	}
	return c.sum / float64(c.n)
}

// Stddev returns the population standard deviation, or 0 without samples.
func (c *Counter) Stddev() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stddev()
}

func (c *Counter) stddev() float64 {
	if c.n == 0 {
		return 0
	}
	avg := c.average()
	return math.Sqrt(math.Max(0, c.sumSq/float64(c.n)-avg*avg))
}

// Reset drops every sample.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n, c.sum, c.sumSq = 0, 0, 0
}

// Summary formats the counter as durations, e.g. "1.23ms (±0.45ms, 8 samples)".
func (c *Counter) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%.3gms (±%.3gms, %d samples)", c.average()*1000, c.stddev()*1000, c.n)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c *Counter) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc.AddFloat64("avg_ms", c.average()*1000)
	enc.AddFloat64("stddev_ms", c.stddev()*1000)
	enc.AddInt("samples", c.n)
	return nil
}

// Pool is a set of counters created on first use.
type Pool struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{counters: make(map[string]*Counter)}
}

// Counter returns the counter called name, creating it if needed.
func (p *Pool) Counter(name string) *Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	if !ok {
		c = &Counter{}
		p.counters[name] = c
	}
	return c
}

// Names returns the counter names in sorted order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.counters))
	for name := range p.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns one " - name: summary" line per counter, sorted by name.
func (p *Pool) Summary() []string {
	names := p.Names()
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = fmt.Sprintf(" - %s: %s", name, p.Counter(name).Summary())
	}
	return lines
}

// Reset resets every counter.
func (p *Pool) Reset() {
	for _, name := range p.Names() {
		p.Counter(name).Reset()
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p *Pool) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, name := range p.Names() {
		if err := enc.AddObject(name, p.Counter(name)); err != nil {
			return err
		}
	}
	return nil
}
