package sched

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"taskcore/internal/eventbus"
	"taskcore/internal/objects"
	rtsup "taskcore/internal/runtime/supervisor"
	"taskcore/internal/task"
	"taskcore/pkg/logx"
)

const EventRan eventbus.Kind = "sched.ran"

type Config struct {
	CPUs        int
	HistorySize int
}

// record is the scheduler's view of one control block incarnation.
type record struct {
	id objects.ID
	// gen counts fresh runs; a body whose gen is stale when it returns was
	// superseded by a restart and does not report its exit.
	gen     uint64
	queued  *entry
	runGen  uint64 // gen of the body executing now, 0 when idle
	removed bool
	cancel  context.CancelFunc
}

// HistoryItem describes one finished run.
type HistoryItem struct {
	ID       objects.ID    `json:"id"`
	Name     string        `json:"name"`
	CPU      int           `json:"cpu"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Panic    string        `json:"panic,omitempty"`
	Reported bool          `json:"reported"`
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu    sync.Mutex
	ready readyQueue
	recs  map[*task.Control]*record
	seq   uint64
	exit  func(objects.ID)
	wake  chan struct{}

	sup *rtsup.Supervisor

	inFlight   atomic.Int32
	dispatched atomic.Uint64
	panics     atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.CPUs <= 0 {
		cfg.CPUs = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "sched")),
		bus:  bus,
		recs: map[*task.Control]*record{},
		wake: make(chan struct{}, 1),
	}
}

// OnExit installs the callback for task bodies that returned.
func (s *Service) OnExit(fn func(objects.ID)) {
	s.mu.Lock()
	s.exit = fn
	s.mu.Unlock()
}

// Start launches the virtual CPUs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < s.cfg.CPUs; i++ {
		cpu := i
		sup.Go(fmt.Sprintf("cpu-%d", cpu), func(ctx context.Context) error {
			return s.cpu(ctx, cpu)
		})
	}
	s.log.Info("scheduler started", logx.Int("cpus", s.cfg.CPUs))
}

// Stop cancels running bodies and waits for the CPUs.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// lookup returns the live record for c, dropping one left behind by an
// earlier incarnation of the same slot. Caller holds s.mu.
func (s *Service) lookup(c *task.Control, create bool) *record {
	r := s.recs[c]
	if r != nil && r.id != c.ID() {
		if r.queued != nil {
			s.ready.remove(r.queued)
		}
		if r.cancel != nil {
			r.cancel()
		}
		delete(s.recs, c)
		r = nil
	}
	if r == nil && create {
		r = &record{id: c.ID()}
		s.recs[c] = r
	}
	return r
}

func (s *Service) EnterReady(c *task.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.State() == task.StateZombie {
		return
	}
	r := s.lookup(c, true)
	if r.runGen != 0 && r.runGen == r.gen && !r.removed {
		// Resumed while its body is still executing.
		c.Transition(task.StateReady, task.StateRunning)
		return
	}
	if r.queued != nil {
		return
	}
	r.gen++
	r.removed = false
	s.seq++
	e := &entry{c: c, id: c.ID(), prio: c.Priority(), seq: s.seq, gen: r.gen}
	heap.Push(&s.ready, e)
	r.queued = e
	s.signal()
}

func (s *Service) Block(c *task.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.lookup(c, false); r != nil && r.queued != nil {
		s.ready.remove(r.queued)
		r.queued = nil
	}
}

func (s *Service) Remove(c *task.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(c, false)
	if r == nil {
		return
	}
	if r.queued != nil {
		s.ready.remove(r.queued)
		r.queued = nil
	}
	if r.runGen == 0 {
		delete(s.recs, c)
		return
	}
	r.removed = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (s *Service) RescheduleOnPriorityChange(c *task.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.lookup(c, false); r != nil && r.queued != nil {
		r.queued.prio = c.Priority()
		heap.Fix(&s.ready, r.queued.idx)
	}
}

type dispatch struct {
	c     *task.Control
	id    objects.ID
	name  string
	gen   uint64
	ctx   context.Context
	entry task.Entry
	arg   any
}

// next pops the best runnable entry, waiting for one if the queue is empty.
func (s *Service) next(ctx context.Context) (dispatch, bool) {
	for {
		s.mu.Lock()
		for s.ready.Len() > 0 {
			e := heap.Pop(&s.ready).(*entry)
			r := s.recs[e.c]
			if r == nil || r.queued != e {
				continue
			}
			r.queued = nil
			if e.c.ID() != e.id || !e.c.Transition(task.StateReady, task.StateRunning) {
				continue
			}
			runCtx, cancel := context.WithCancel(task.WithSelf(ctx, e.id))
			r.runGen = e.gen
			r.cancel = cancel
			d := dispatch{c: e.c, id: e.id, name: e.c.Name(), gen: e.gen, ctx: runCtx, entry: e.c.Entry(), arg: e.c.Arg()}
			if s.ready.Len() > 0 {
				s.signal()
			}
			s.mu.Unlock()
			return d, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return dispatch{}, false
		case <-s.wake:
		}
	}
}

func (s *Service) cpu(ctx context.Context, idx int) error {
	for {
		d, ok := s.next(ctx)
		if !ok {
			return nil
		}
		s.execOne(d, idx)
	}
}

func (s *Service) execOne(d dispatch, cpu int) {
	s.inFlight.Add(1)
	s.dispatched.Add(1)
	start := time.Now()

	var panicMsg string
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicMsg = fmt.Sprint(r)
				s.panics.Add(1)
				s.log.Error("task body panic", logx.Stringer("id", d.id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		if d.entry != nil {
			d.entry(d.ctx, d.arg)
		}
	}()
	s.inFlight.Add(-1)

	s.mu.Lock()
	var report bool
	var cancel context.CancelFunc
	if r := s.recs[d.c]; r != nil && r.id == d.id {
		if r.runGen == d.gen {
			r.runGen = 0
			cancel, r.cancel = r.cancel, nil
		}
		report = r.gen == d.gen
		if r.runGen == 0 && r.queued == nil && report {
			delete(s.recs, d.c)
		}
	}
	exit := s.exit
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	item := HistoryItem{ID: d.id, Name: d.name, CPU: cpu, Started: start, Duration: time.Since(start), Panic: panicMsg, Reported: report}
	s.remember(item)
	s.bus.Publish(eventbus.Event{Kind: EventRan, Time: time.Now(), Data: item})

	if report && exit != nil {
		exit(d.id)
	}
}

func (s *Service) remember(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

type Snapshot struct {
	CPUs       int             `json:"cpus"`
	Ready      int             `json:"ready"`
	InFlight   int32           `json:"in_flight"`
	Dispatched uint64          `json:"dispatched"`
	Panics     uint64          `json:"panics"`
	History    []HistoryItem   `json:"history"`
	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{CPUs: s.cfg.CPUs, Ready: s.ready.Len()}
	sup := s.sup
	s.mu.Unlock()
	snap.InFlight = s.inFlight.Load()
	snap.Dispatched = s.dispatched.Load()
	snap.Panics = s.panics.Load()
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	if sup != nil {
		ss := sup.Snapshot()
		snap.Supervisor = &ss
	}
	return snap
}

var _ task.Scheduler = (*Service)(nil)
