package benchmark

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/internal/priority"
	"taskcore/internal/storage"
	"taskcore/internal/timer"
)

// fixedCounter reads calib in raw mode and run otherwise.
type fixedCounter struct {
	calib, run  uint64
	calibrating bool
}

func (c *fixedCounter) Reset() {}
func (c *fixedCounter) Ticks() uint64 {
	if c.calibrating {
		return c.calib
	}
	return c.run
}

type memStore struct {
	mu        sync.Mutex
	results   []storage.BenchmarkResult
	baselines map[string]uint64
}

func newMemStore() *memStore { return &memStore{baselines: map[string]uint64{}} }

func (s *memStore) AppendEvent(context.Context, storage.EventRecord) error { return nil }
func (s *memStore) AppendBenchmark(_ context.Context, r storage.BenchmarkResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}
func (s *memStore) PutBaseline(_ context.Context, name string, avg uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[name] = avg
	return nil
}
func (s *memStore) GetBaseline(_ context.Context, name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.baselines[name]
	return v, ok, nil
}
func (s *memStore) Close() error { return nil }

// runWith drives the suite steps directly so the counter can report a
// different total while calibrating.
func runWith(t *testing.T, st *memStore, run uint64, regression float64) Report {
	t.Helper()
	c := &fixedCounter{calib: 100, run: run}
	tm := timer.New(c, timer.Config{LeastValid: 1})
	s := New(Config{Iterations: 10, Regression: regression}, tm, priority.Default(), WithStore(st))

	c.calibrating = true
	overhead := s.calibrate(10)
	c.calibrating = false
	require.Equal(t, uint64(100), overhead)

	rep := Report{Overhead: overhead}
	for _, stp := range s.steps() {
		m, err := s.table(10)
		require.NoError(t, err)
		ms, err := s.measure(context.Background(), m, stp, 10, overhead)
		require.NoError(t, err, stp.name)
		s.compare(context.Background(), &ms)
		s.persist(context.Background(), rep.At, ms, overhead)
		rep.Measurements = append(rep.Measurements, ms)
	}
	return rep
}

func TestSuiteMeasuresEveryDirective(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	rep := runWith(t, st, 1100, 1.5)

	names := make([]string, 0, len(rep.Measurements))
	for _, m := range rep.Measurements {
		names = append(names, m.Name)
		assert.Equal(t, uint64(1000), m.TotalNanos, m.Name)
		assert.Equal(t, uint64(100), m.AvgNanos, m.Name)
		assert.False(t, m.Regressed)
	}
	assert.Equal(t, []string{
		"task_create", "task_create_delete", "task_start", "task_delete",
		"task_set_priority", "task_get_priority", "task_suspend_resume", "task_ident",
	}, names)
	assert.Len(t, st.results, len(names))
	assert.Equal(t, uint64(100), st.baselines["task_start"])
}

func TestSuiteFlagsRegressions(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	_ = runWith(t, st, 1100, 1.5)

	rep := runWith(t, st, 2100, 1.5)
	require.NotEmpty(t, rep.Measurements)
	assert.Len(t, rep.Regressions(), len(rep.Measurements))
	assert.Equal(t, uint64(100), rep.Measurements[0].Baseline)
	// Baselines are only written once.
	assert.Equal(t, uint64(100), st.baselines["task_create"])

	rep = runWith(t, st, 1200, 1.5)
	assert.Empty(t, rep.Regressions())
}

func TestSuiteRunOnMonotonicTimer(t *testing.T) {
	t.Parallel()
	tm := timer.New(timer.NewMonotonic(), timer.DefaultConfig())
	rep, err := New(Config{Iterations: 5}, tm, priority.Default()).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Measurements, 8)
	for _, m := range rep.Measurements {
		assert.Equal(t, 5, m.Iterations)
		assert.Equal(t, m.TotalNanos/5, m.AvgNanos)
	}
}

func TestSuiteStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tm := timer.New(timer.NewMonotonic(), timer.DefaultConfig())
	_, err := New(Config{Iterations: 3}, tm, priority.Default()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
