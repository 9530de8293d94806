// Package benchmark times the task directives the way board timing tests
// do: calibrate the loop overhead once, then run each directive N times
// between Initialize and Read.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/storage"
	"taskcore/internal/task"
	"taskcore/internal/timer"
	"taskcore/pkg/logx"
)

const DefaultIterations = 100

type Config struct {
	Iterations int
	// Regression flags averages above baseline*Regression. 0 disables it.
	Regression float64
}

// Measurement is one timed directive loop.
type Measurement struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	TotalNanos uint64 `json:"total_ns"`
	AvgNanos   uint64 `json:"avg_ns"`
	Baseline   uint64 `json:"baseline_ns,omitempty"`
	Regressed  bool   `json:"regressed,omitempty"`
}

type Report struct {
	At           time.Time     `json:"at"`
	Overhead     uint64        `json:"overhead_ns"`
	Measurements []Measurement `json:"measurements"`
}

// Regressions returns the names of measurements slower than their baseline.
func (r Report) Regressions() []string {
	var out []string
	for _, m := range r.Measurements {
		if m.Regressed {
			out = append(out, m.Name)
		}
	}
	return out
}

// Suite owns a private task table so runs never touch live tasks.
type Suite struct {
	cfg   Config
	tm    *timer.Timer
	tr    priority.Translator
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Suite)

// WithStore persists results and compares them against stored baselines.
func WithStore(st storage.Store) Option { return func(s *Suite) { s.store = st } }

func WithLogger(l logx.Logger) Option { return func(s *Suite) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Suite) { s.now = now } }

func New(cfg Config, tm *timer.Timer, tr priority.Translator, opts ...Option) *Suite {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	s := &Suite{cfg: cfg, tm: tm, tr: tr, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "benchmark"))
	return s
}

type step struct {
	name string
	// setup runs untimed and returns the IDs the timed body works on.
	setup func(ctx context.Context, m *task.Manager, n int) ([]objects.ID, error)
	body  func(ctx context.Context, m *task.Manager, ids []objects.ID, i int) error
}

// Run calibrates the loop overhead and times every directive.
func (s *Suite) Run(ctx context.Context) (Report, error) {
	n := s.cfg.Iterations
	rep := Report{At: s.now(), Overhead: s.calibrate(n)}
	s.log.Debug("loop overhead calibrated", logx.Uint64("overhead_ns", rep.Overhead), logx.Int("iterations", n))

	for _, st := range s.steps() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		m, err := s.table(n)
		if err != nil {
			return rep, err
		}
		ms, err := s.measure(ctx, m, st, n, rep.Overhead)
		if err != nil {
			return rep, fmt.Errorf("benchmark %s: %w", st.name, err)
		}
		s.compare(ctx, &ms)
		rep.Measurements = append(rep.Measurements, ms)
		s.persist(ctx, rep.At, ms, rep.Overhead)
	}

	if bad := rep.Regressions(); len(bad) > 0 {
		s.log.Warn("benchmark regressions", logx.Any("names", bad), logx.Any("factor", s.cfg.Regression))
	} else {
		s.log.Info("benchmark finished", logx.Int("measurements", len(rep.Measurements)), logx.Int("iterations", n))
	}
	return rep, nil
}

// calibrate returns the raw cost of n empty calls.
func (s *Suite) calibrate(n int) uint64 {
	s.tm.SetFindAverageOverhead(true)
	defer s.tm.SetFindAverageOverhead(false)
	s.tm.Initialize()
	for i := 0; i < n; i++ {
		timer.EmptyFunction()
	}
	return s.tm.Read()
}

func (s *Suite) table(n int) (*task.Manager, error) {
	return task.New(task.Config{MaxTasks: n + 1}, s.tr, Parked{})
}

func (s *Suite) measure(ctx context.Context, m *task.Manager, st step, n int, overhead uint64) (Measurement, error) {
	var ids []objects.ID
	if st.setup != nil {
		var err error
		if ids, err = st.setup(ctx, m, n); err != nil {
			return Measurement{}, err
		}
	}
	s.tm.Initialize()
	for i := 0; i < n; i++ {
		if err := st.body(ctx, m, ids, i); err != nil {
			return Measurement{}, err
		}
	}
	total := s.tm.Read()
	if total > overhead {
		total -= overhead
	} else {
		total = 0
	}
	return Measurement{Name: st.name, Iterations: n, TotalNanos: total, AvgNanos: total / uint64(n)}, nil
}

func (s *Suite) compare(ctx context.Context, ms *Measurement) {
	if s.store == nil {
		return
	}
	base, ok, err := s.store.GetBaseline(ctx, ms.Name)
	if err != nil {
		s.log.Warn("baseline read failed", logx.String("name", ms.Name), logx.Err(err))
		return
	}
	if !ok {
		if err := s.store.PutBaseline(ctx, ms.Name, ms.AvgNanos); err != nil {
			s.log.Warn("baseline write failed", logx.String("name", ms.Name), logx.Err(err))
		}
		return
	}
	ms.Baseline = base
	if s.cfg.Regression > 0 && base > 0 && float64(ms.AvgNanos) > float64(base)*s.cfg.Regression {
		ms.Regressed = true
	}
}

func (s *Suite) persist(ctx context.Context, at time.Time, ms Measurement, overhead uint64) {
	if s.store == nil {
		return
	}
	err := s.store.AppendBenchmark(ctx, storage.BenchmarkResult{
		At:         at,
		Name:       ms.Name,
		Iterations: ms.Iterations,
		TotalNanos: ms.TotalNanos,
		AvgNanos:   ms.AvgNanos,
		Overhead:   overhead,
	})
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		s.log.Warn("benchmark result not stored", logx.String("name", ms.Name), logx.Err(err))
	}
}
