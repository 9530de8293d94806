// Package timer is the benchmark timer: a free-running hardware-style
// counter turned into elapsed nanoseconds with the board's overhead
// correction.
package timer

import (
	"sync/atomic"
	"time"
)

// Counter is the hardware counter collaborator.
type Counter interface {
	Reset()
	Ticks() uint64
}

// Defaults of the original board driver: readings under one unit are noise
// and no average overhead is subtracted.
const (
	DefaultLeastValid = 1
	DefaultOverhead   = 0
	DefaultTickNanos  = 1
)

type Config struct {
	// LeastValid is the smallest total (ns) reported as a measurement.
	LeastValid uint64 `json:"least_valid"`
	// Overhead is subtracted from every valid reading.
	Overhead uint64 `json:"overhead"`
	// TickNanos converts counter ticks to nanoseconds.
	TickNanos uint64 `json:"tick_nanos"`
}

func DefaultConfig() Config {
	return Config{LeastValid: DefaultLeastValid, Overhead: DefaultOverhead, TickNanos: DefaultTickNanos}
}

type Timer struct {
	counter Counter
	cfg     Config
	raw     atomic.Bool
}

// New builds a timer. A zero TickNanos means one tick per nanosecond.
func New(c Counter, cfg Config) *Timer {
	if cfg.TickNanos == 0 {
		cfg.TickNanos = DefaultTickNanos
	}
	return &Timer{counter: c, cfg: cfg}
}

func (t *Timer) Config() Config { return t.cfg }

// Initialize restarts the counter at zero.
func (t *Timer) Initialize() { t.counter.Reset() }

// Read returns the nanoseconds since Initialize. In overhead-finding mode
// the raw total is returned; otherwise totals below LeastValid read as 0
// and Overhead is subtracted, never going below 0.
func (t *Timer) Read() uint64 {
	total := t.counter.Ticks() * t.cfg.TickNanos
	if t.raw.Load() {
		return total
	}
	if total < t.cfg.LeastValid {
		return 0
	}
	if total <= t.cfg.Overhead {
		return 0
	}
	return total - t.cfg.Overhead
}

// SetFindAverageOverhead switches raw readings on or off. Benchmarks turn it
// on while calibrating their loop overhead.
func (t *Timer) SetFindAverageOverhead(on bool) { t.raw.Store(on) }

// EmptyFunction is the body timed when calibrating call overhead.
//
//go:noinline
func EmptyFunction() {}

// Monotonic counts nanoseconds on the runtime's monotonic clock.
type Monotonic struct {
	start atomic.Int64
	base  time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{base: time.Now()}
}

func (m *Monotonic) Reset() { m.start.Store(int64(time.Since(m.base))) }

func (m *Monotonic) Ticks() uint64 {
	d := int64(time.Since(m.base)) - m.start.Load()
	if d < 0 {
		return 0
	}
	return uint64(d)
}
