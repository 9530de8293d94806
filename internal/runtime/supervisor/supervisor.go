// Package supervisor runs named goroutines tied to one context, with panic
// recovery, restart-on-failure and a timeout-aware Wait.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "taskcore/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	started atomic.Uint64
	active  atomic.Int64

	mu    sync.Mutex
	stats map[string]*GoroutineStats
}

// GoroutineStats aggregates every goroutine started under one name.
type GoroutineStats struct {
	Name      string    `json:"name"`
	Active    int64     `json:"active"`
	Started   uint64    `json:"started"`
	Panics    uint64    `json:"panics"`
	Restarts  uint64    `json:"restarts"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at"`
}

type Snapshot struct {
	Active     int64            `json:"active"`
	Started    uint64           `json:"started"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first error.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		stats:  map[string]*GoroutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

// Go runs fn once. A panic is recovered and recorded as an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.noteStart(name, false)
		err := s.run(name, fn)
		s.noteStop(name, err)
		if err != nil {
			s.fail(err)
		}
	}()
}

type restartConfig struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int
}

type RestartOption func(*restartConfig)

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartConfig) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n failed runs. 0 means unlimited.
func WithMaxRestarts(n int) RestartOption { return func(c *restartConfig) { c.maxRestarts = n } }

// GoRestart runs fn and restarts it with exponential backoff when it fails
// or panics. A nil return or a cancelled context stops the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartConfig{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			s.noteStart(name, restarts > 0)
			err := s.run(name, fn)
			if s.ctx.Err() != nil || err == nil {
				s.noteStop(name, nil)
				return
			}
			s.noteStop(name, err)
			if cfg.maxRestarts > 0 && restarts+1 >= cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.statsFor(name).Panics++
			s.mu.Unlock()
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	err = fn(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) statsFor(name string) *GoroutineStats {
	st := s.stats[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) {
	s.mu.Lock()
	st := s.statsFor(name)
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	st := s.statsFor(name)
	if st.Active > 0 {
		st.Active--
	}
	if err != nil {
		st.LastErr = err.Error()
		st.LastErrAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, st := range s.stats {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.mu.Unlock()
	sort.Slice(snap.Goroutines, func(i, j int) bool { return snap.Goroutines[i].Name < snap.Goroutines[j].Name })
	return snap
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
