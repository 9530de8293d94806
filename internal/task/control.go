package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
)

type State int32

const (
	StateFree State = iota
	StateDormant
	StateReady
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateDormant:
		return "dormant"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Entry is a task body. ctx carries the task's own ID (see SelfFrom) and is
// cancelled when the task is deleted, restarted or suspended away.
type Entry func(ctx context.Context, arg any)

// Attributes describe a task at create time.
type Attributes struct {
	Name      string
	Priority  priority.API
	Entry     Entry
	Arg       any
	StackSize int
	// Global tasks are announced to every peer node and can be found with
	// Ident from anywhere.
	Global bool
}

type reclaim uint8

const (
	reclaimNone     reclaim = iota
	reclaimRemoving         // marked zombie, scheduler removal in progress
	reclaimDeferred         // self-deleted; waits for the body to return
	reclaimQueued           // on the zombie list
)

// Control is a task control block. Slots live in the pool arena and are
// reused; the scheduler only ever holds references.
type Control struct {
	// Written under the allocator lock at create, read-only afterwards.
	id        objects.ID
	name      string
	entry     Entry
	arg       any
	stackSize int
	global    bool
	created   time.Time
	initial   priority.Core

	state     atomic.Int32
	current   atomic.Uint32 // priority.Core
	base      atomic.Uint32 // priority.Core
	suspended atomic.Bool
	pins      atomic.Int32

	// Allocator lock only.
	reclaim reclaim
}

func (c *Control) ID() objects.ID { return c.id }
func (c *Control) Name() string   { return c.name }
func (c *Control) Entry() Entry   { return c.entry }
func (c *Control) Arg() any       { return c.arg }
func (c *Control) State() State   { return State(c.state.Load()) }

// Priority is the current core priority.
func (c *Control) Priority() priority.Core { return priority.Core(c.current.Load()) }

// Transition moves the block from one state to another and reports whether
// it did. Schedulers use it for Ready/Running/Blocked; it refuses to leave
// StateZombie because only the reaper may retire a zombie.
func (c *Control) Transition(from, to State) bool {
	if from == StateZombie {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Control) init(id objects.ID, attrs Attributes, core priority.Core, now time.Time) {
	c.id = id
	c.name = attrs.Name
	c.entry = attrs.Entry
	c.arg = attrs.Arg
	c.stackSize = attrs.StackSize
	c.global = attrs.Global
	c.created = now
	c.initial = core
	c.current.Store(uint32(core))
	c.base.Store(uint32(core))
	c.suspended.Store(false)
	c.pins.Store(0)
	c.reclaim = reclaimNone
	c.state.Store(int32(StateDormant))
}

// markZombie moves any live state to StateZombie. It fails if the block is
// already a zombie.
func (c *Control) markZombie() bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateZombie || State(cur) == StateFree {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateZombie)) {
			return true
		}
	}
}

// moveTo switches a started task to state to, whatever it was doing. It
// refuses dormant tasks and zombies and returns the state it left.
func (c *Control) moveTo(to State) (State, bool) {
	for {
		cur := State(c.state.Load())
		switch cur {
		case StateFree, StateDormant, StateZombie:
			return cur, false
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			return cur, true
		}
	}
}

// Info is a copy of a control block for callers outside the package.
type Info struct {
	ID           objects.ID   `json:"id"`
	Name         string       `json:"name"`
	State        State        `json:"state"`
	Priority     priority.API `json:"priority"`
	BasePriority priority.API `json:"base_priority"`
	Suspended    bool         `json:"suspended"`
	Global       bool         `json:"global"`
	StackSize    int          `json:"stack_size"`
	Created      time.Time    `json:"created"`
}

func (c *Control) info(tr priority.Translator) Info {
	return Info{
		ID:           c.id,
		Name:         c.name,
		State:        c.State(),
		Priority:     tr.FromCore(priority.Core(c.current.Load())),
		BasePriority: tr.FromCore(priority.Core(c.base.Load())),
		Suspended:    c.suspended.Load(),
		Global:       c.global,
		StackSize:    c.stackSize,
		Created:      c.created,
	}
}

type selfKey struct{}

// WithSelf returns a context identifying the running task. Schedulers set
// it on the context passed to a task body.
func WithSelf(ctx context.Context, id objects.ID) context.Context {
	return context.WithValue(ctx, selfKey{}, id)
}

// SelfFrom returns the calling task's ID, if ctx carries one.
func SelfFrom(ctx context.Context) (objects.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(selfKey{}).(objects.ID)
	return id, ok && id != objects.Self
}
