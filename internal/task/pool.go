package task

import (
	"fmt"
	"sync"
	"time"

	"taskcore/internal/eventbus"
	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/status"
	"taskcore/pkg/logx"
)

const (
	DefaultMaxTasks  = 64
	DefaultStackSize = 8 << 10
	MinimumStackSize = 4 << 10
)

type Config struct {
	MaxTasks     int
	DefaultStack int
	MinStack     int
}

func (c Config) withDefaults() Config {
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.MinStack <= 0 {
		c.MinStack = MinimumStackSize
	}
	if c.DefaultStack <= 0 {
		c.DefaultStack = DefaultStackSize
	}
	if c.DefaultStack < c.MinStack {
		c.DefaultStack = c.MinStack
	}
	return c
}

type Option func(*Manager)

// WithAllocator shares one allocator lock between several object classes.
func WithAllocator(a *objects.Allocator) Option {
	return func(m *Manager) { m.alloc = a }
}

func WithLocator(l Locator) Option {
	return func(m *Manager) { m.loc = l }
}

func WithLogger(l logx.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithBus(b eventbus.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

func WithFatalHandler(fn objects.FatalHandler) Option {
	return func(m *Manager) { m.fatal = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the task pool and implements the task directives.
type Manager struct {
	cfg   Config
	tr    priority.Translator
	alloc *objects.Allocator
	pool  *objects.Directory[Control]
	sched Scheduler
	loc   Locator
	log   logx.Logger
	bus   eventbus.Bus
	fatal objects.FatalHandler
	now   func() time.Time

	// zombies is guarded by the allocator lock.
	zombies []zombie

	gmu     sync.RWMutex
	globals map[string]objects.ID // names announced by peers
}

func New(cfg Config, tr priority.Translator, sched Scheduler, opts ...Option) (*Manager, error) {
	if sched == nil {
		return nil, fmt.Errorf("task: scheduler is required")
	}
	if tr.Min == 0 || tr.Min > tr.Max {
		return nil, fmt.Errorf("task: bad priority range [%d, %d]", tr.Min, tr.Max)
	}
	m := &Manager{
		cfg:     cfg.withDefaults(),
		tr:      tr,
		sched:   sched,
		globals: map[string]objects.ID{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.alloc == nil {
		m.alloc = objects.NewAllocator()
	}
	if m.loc == nil {
		m.loc = LocalOnly{}
	}
	if m.bus == nil {
		m.bus = eventbus.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.log = m.log.With(logx.String("comp", "task"))

	fatal := m.fatal
	if fatal == nil {
		fatal = func(err *objects.FatalError) {
			m.log.Error("object directory corrupted", logx.Err(err))
			panic(err)
		}
	}
	pool, err := objects.New[Control](m.alloc, objects.ClassTask, m.loc.Node(), m.cfg.MaxTasks, objects.WithFatalHandler(fatal))
	if err != nil {
		return nil, fmt.Errorf("task: %w", err)
	}
	m.pool = pool
	return m, nil
}

func (m *Manager) Translator() priority.Translator { return m.tr }
func (m *Manager) Node() objects.Node              { return m.pool.Node() }
func (m *Manager) Allocator() *objects.Allocator   { return m.alloc }

// pin keeps c's slot from being reaped while a directive still has to call
// the scheduler with it. Call under the allocator lock.
func (m *Manager) pin(c *Control)   { c.pins.Add(1) }
func (m *Manager) unpin(c *Control) { c.pins.Add(-1) }

// acquire looks id up for a state change; callers hold the allocator lock.
// Zombies are already dead as far as directives are concerned.
func (m *Manager) acquire(id objects.ID) (*Control, error) {
	c, err := m.pool.Get(id)
	if err != nil {
		return nil, err
	}
	if c.State() == StateZombie {
		return nil, fmt.Errorf("task %s: deleted: %w", id, status.ErrInvalidID)
	}
	return c, nil
}
