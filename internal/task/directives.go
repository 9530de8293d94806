package task

import (
	"context"
	"fmt"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/status"
	"taskcore/pkg/logx"
)

// Create allocates a dormant task. The zombie list is reaped first so a
// deleted task's slot is available to the very next create.
func (m *Manager) Create(ctx context.Context, attrs Attributes) (objects.ID, error) {
	if attrs.Name == "" {
		return 0, fmt.Errorf("create: empty name: %w", status.ErrInvalidName)
	}
	if !m.tr.IsValid(attrs.Priority) {
		return 0, fmt.Errorf("create %q: priority %d outside [%d, %d]: %w",
			attrs.Name, attrs.Priority, m.tr.Min, m.tr.Max, status.ErrInvalidPriority)
	}
	switch {
	case attrs.StackSize <= 0:
		attrs.StackSize = m.cfg.DefaultStack
	case attrs.StackSize < m.cfg.MinStack:
		attrs.StackSize = m.cfg.MinStack
	}
	core := m.tr.ToCore(attrs.Priority)

	g := m.alloc.Lock()
	reaped := m.reap(g)
	id, c, err := m.pool.Allocate(g)
	if err != nil {
		g.Unlock()
		m.publishReaped(reaped)
		return 0, fmt.Errorf("create %q: %w", attrs.Name, err)
	}
	c.init(id, attrs, core, m.now())
	g.Unlock()

	m.publishReaped(reaped)
	m.publish(EventCreated, Event{ID: id, Name: attrs.Name, Priority: attrs.Priority})
	m.log.Debug("task created", logx.Stringer("id", id), logx.String("name", attrs.Name))

	if attrs.Global {
		m.announce(ctx, id, attrs.Name)
	}
	return id, nil
}

// Start moves a dormant task to the ready state.
func (m *Manager) Start(ctx context.Context, id objects.ID) error {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return err
	}
	if remote {
		_, err := m.forward(ctx, Request{Op: OpStart, ID: id})
		return err
	}

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return fmt.Errorf("start: %w", err)
	}
	if !c.Transition(StateDormant, StateReady) {
		st := c.State()
		g.Unlock()
		return fmt.Errorf("start %s: task is %s: %w", id, st, status.ErrInvalidState)
	}
	name := c.name
	m.pin(c)
	g.Unlock()

	m.sched.EnterReady(c)
	m.unpin(c)
	m.publish(EventStarted, Event{ID: id, Name: name})
	return nil
}

// Delete retires a task. Deleting the calling task only marks it; the slot
// is reclaimed after its body has returned (see Exited). Deletion cannot be
// undone.
func (m *Manager) Delete(ctx context.Context, id objects.ID) error {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return err
	}
	if remote {
		_, err := m.forward(ctx, Request{Op: OpDelete, ID: id})
		return err
	}
	self, _ := SelfFrom(ctx)
	deferred := self == id

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return fmt.Errorf("delete: %w", err)
	}
	if !c.markZombie() {
		g.Unlock()
		return fmt.Errorf("delete %s: already deleted: %w", id, status.ErrInvalidID)
	}
	if deferred {
		c.reclaim = reclaimDeferred
	} else {
		c.reclaim = reclaimRemoving
	}
	name, global := c.name, c.global
	m.pin(c)
	g.Unlock()

	m.sched.Remove(c)

	if deferred {
		m.unpin(c)
	} else {
		// Unpin and bury under one lock hold so the zombie is reapable as
		// soon as it is listed.
		g = m.alloc.Lock()
		m.unpin(c)
		m.bury(c)
		g.Unlock()
	}
	m.publish(EventDeleted, Event{ID: id, Name: name})

	if !deferred && global {
		_ = m.sendExtracts(ctx, id)
	}
	return nil
}

// Exited is the scheduler's callback for a task body that returned. A task
// that deleted itself is queued for reclamation now; any other live task
// simply terminated and becomes a zombie.
func (m *Manager) Exited(id objects.ID) {
	g := m.alloc.Lock()
	c, err := m.pool.Get(id)
	if err != nil {
		g.Unlock()
		return
	}
	switch c.reclaim {
	case reclaimDeferred:
	case reclaimNone:
		if !c.markZombie() {
			g.Unlock()
			return
		}
	default:
		// A concurrent Delete owns the reclamation.
		g.Unlock()
		return
	}
	name, global := c.name, c.global
	m.bury(c)
	g.Unlock()

	m.publish(EventExited, Event{ID: id, Name: name})
	if global {
		_ = m.sendExtracts(context.Background(), id)
	}
}

// SetPriority changes a task's priority and returns the previous one.
// priority.Current only reports the priority.
func (m *Manager) SetPriority(ctx context.Context, id objects.ID, p priority.API) (priority.API, error) {
	if p != priority.Current && !m.tr.IsValid(p) {
		return 0, fmt.Errorf("set priority: %d outside [%d, %d]: %w", p, m.tr.Min, m.tr.Max, status.ErrInvalidPriority)
	}
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return 0, err
	}
	if remote {
		resp, err := m.forward(ctx, Request{Op: OpSetPriority, ID: id, Priority: p})
		return resp.Priority, err
	}

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return 0, fmt.Errorf("set priority: %w", err)
	}
	old := m.tr.FromCore(c.Priority())
	if p == priority.Current {
		g.Unlock()
		return old, nil
	}
	core := m.tr.ToCore(p)
	c.base.Store(uint32(core))
	c.current.Store(uint32(core))
	notify := c.State() != StateDormant
	name := c.name
	if notify {
		m.pin(c)
	}
	g.Unlock()

	if notify {
		m.sched.RescheduleOnPriorityChange(c)
		m.unpin(c)
	}
	m.publish(EventPriority, Event{ID: id, Name: name, Priority: p, Previous: old})
	return old, nil
}

// GetPriority reads the current priority without taking the allocator lock.
func (m *Manager) GetPriority(ctx context.Context, id objects.ID) (priority.API, error) {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return 0, err
	}
	if remote {
		resp, err := m.forward(ctx, Request{Op: OpGetPriority, ID: id})
		return resp.Priority, err
	}
	c, err := m.pool.Get(id)
	if err != nil {
		return 0, fmt.Errorf("get priority: %w", err)
	}
	p := m.tr.FromCore(c.Priority())
	st := c.State()
	// The slot may have been recycled between Get and the loads above.
	if _, err := m.pool.Get(id); err != nil || st == StateZombie {
		return 0, fmt.Errorf("get priority %s: %w", id, status.ErrInvalidID)
	}
	return p, nil
}

// Suspend blocks a task until Resume. Suspending a suspended or dormant task
// is an invalid state.
func (m *Manager) Suspend(ctx context.Context, id objects.ID) error {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return err
	}
	if remote {
		_, err := m.forward(ctx, Request{Op: OpSuspend, ID: id})
		return err
	}

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return fmt.Errorf("suspend: %w", err)
	}
	if c.suspended.Load() || c.State() == StateDormant {
		st := c.State()
		g.Unlock()
		return fmt.Errorf("suspend %s: task is %s (suspended=%t): %w", id, st, c.suspended.Load(), status.ErrInvalidState)
	}
	c.suspended.Store(true)
	c.moveTo(StateBlocked)
	name := c.name
	m.pin(c)
	g.Unlock()

	m.sched.Block(c)
	m.unpin(c)
	m.publish(EventSuspended, Event{ID: id, Name: name})
	return nil
}

func (m *Manager) Resume(ctx context.Context, id objects.ID) error {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return err
	}
	if remote {
		_, err := m.forward(ctx, Request{Op: OpResume, ID: id})
		return err
	}

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return fmt.Errorf("resume: %w", err)
	}
	if !c.suspended.Load() {
		g.Unlock()
		return fmt.Errorf("resume %s: not suspended: %w", id, status.ErrInvalidState)
	}
	c.suspended.Store(false)
	ready := c.Transition(StateBlocked, StateReady)
	name := c.name
	if ready {
		m.pin(c)
	}
	g.Unlock()

	if ready {
		m.sched.EnterReady(c)
		m.unpin(c)
	}
	m.publish(EventResumed, Event{ID: id, Name: name})
	return nil
}

// Restart sends a started task back to the ready state at its initial
// priority, running its entry again from the top with the original
// argument.
func (m *Manager) Restart(ctx context.Context, id objects.ID) error {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return err
	}
	if remote {
		_, err := m.forward(ctx, Request{Op: OpRestart, ID: id})
		return err
	}

	g := m.alloc.Lock()
	c, err := m.acquire(id)
	if err != nil {
		g.Unlock()
		return fmt.Errorf("restart: %w", err)
	}
	if st, ok := c.moveTo(StateReady); !ok {
		g.Unlock()
		return fmt.Errorf("restart %s: task is %s: %w", id, st, status.ErrInvalidState)
	}
	c.suspended.Store(false)
	c.base.Store(uint32(c.initial))
	c.current.Store(uint32(c.initial))
	name, initial := c.name, c.initial
	m.pin(c)
	g.Unlock()

	m.sched.Remove(c)
	m.sched.EnterReady(c)
	m.unpin(c)
	m.publish(EventRestarted, Event{ID: id, Name: name, Priority: m.tr.FromCore(initial)})
	return nil
}

// Scope selects the tables Ident searches.
type Scope uint8

const (
	SearchAll Scope = iota
	SearchLocal
)

// Ident returns the ID of the first live task named name: local tasks in
// index order, then global tasks announced by peers.
func (m *Manager) Ident(ctx context.Context, name string, scope Scope) (objects.ID, error) {
	if name == "" {
		return 0, fmt.Errorf("ident: empty name: %w", status.ErrInvalidName)
	}
	var found objects.ID
	g := m.alloc.Lock()
	m.pool.Range(func(id objects.ID, c *Control) bool {
		if c.name == name && c.State() != StateZombie {
			found = id
			return false
		}
		return true
	})
	g.Unlock()
	if found != 0 {
		return found, nil
	}

	if scope == SearchAll {
		m.gmu.RLock()
		id, ok := m.globals[name]
		m.gmu.RUnlock()
		if ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("ident %q: %w", name, status.ErrInvalidName)
}

// Lookup returns a copy of the control block behind id. Zombies remain
// visible until they are reaped.
func (m *Manager) Lookup(ctx context.Context, id objects.ID) (Info, error) {
	id, remote, err := m.target(ctx, id)
	if err != nil {
		return Info{}, err
	}
	if remote {
		resp, err := m.forward(ctx, Request{Op: OpLookup, ID: id})
		if err != nil {
			return Info{}, err
		}
		if resp.Info == nil {
			return Info{}, fmt.Errorf("lookup %s: empty reply: %w", id, status.ErrUnsatisfied)
		}
		return *resp.Info, nil
	}

	g := m.alloc.Lock()
	defer g.Unlock()
	c, err := m.pool.Get(id)
	if err != nil {
		return Info{}, fmt.Errorf("lookup: %w", err)
	}
	return c.info(m.tr), nil
}

// Snapshot is a diagnostic view of the task table.
type Snapshot struct {
	Pool        objects.Stats `json:"pool"`
	Zombies     int           `json:"zombies"`
	PendingAcks int           `json:"pending_acks"`
	Globals     int           `json:"globals"`
	Tasks       []Info        `json:"tasks"`
}

func (m *Manager) Snapshot() Snapshot {
	var s Snapshot
	g := m.alloc.Lock()
	s.Pool = m.pool.Stats()
	s.Zombies = len(m.zombies)
	for _, z := range m.zombies {
		s.PendingAcks += len(z.pending)
	}
	m.pool.Range(func(_ objects.ID, c *Control) bool {
		s.Tasks = append(s.Tasks, c.info(m.tr))
		return true
	})
	g.Unlock()

	m.gmu.RLock()
	s.Globals = len(m.globals)
	m.gmu.RUnlock()
	return s
}

// target resolves Self and reports whether id lives on another node.
func (m *Manager) target(ctx context.Context, id objects.ID) (objects.ID, bool, error) {
	if id == objects.Self {
		self, ok := SelfFrom(ctx)
		if !ok {
			return 0, false, fmt.Errorf("self: caller is not a task: %w", status.ErrInvalidID)
		}
		return self, false, nil
	}
	return id, id.Node() != m.pool.Node(), nil
}
