package objects

import (
	"fmt"
	"sync/atomic"

	"taskcore/internal/status"
)

const (
	allocatedBit = 1
	noSlot       = -1
)

type slot[T any] struct {
	// state packs generation<<1 | allocated. Written under the allocator
	// lock, read lock-free by Get.
	state atomic.Uint64

	// Free chain bookkeeping; allocator lock only.
	next    int32
	onChain bool

	value T
}

func (s *slot[T]) word() (gen uint32, allocated bool) {
	w := s.state.Load()
	return uint32(w >> 1), w&allocatedBit != 0
}

// Directory is the table of one object class on one node.
type Directory[T any] struct {
	alloc *Allocator
	class Class
	node  Node
	max   uint16

	slots []slot[T] // slots[0] is never used
	head  int32
	tail  int32
	free  atomic.Int32

	fatal FatalHandler
}

type Option func(*options)

type options struct {
	fatal FatalHandler
}

// WithFatalHandler installs the escalation path for invariant violations.
func WithFatalHandler(fn FatalHandler) Option {
	return func(o *options) { o.fatal = fn }
}

// Stats is a point-in-time view of a directory.
type Stats struct {
	Class     Class `json:"class"`
	Node      Node  `json:"node"`
	Capacity  int   `json:"capacity"`
	Allocated int   `json:"allocated"`
	Free      int   `json:"free"`
}

// New builds a directory with capacity slots, all initially on the free
// chain in index order.
func New[T any](alloc *Allocator, class Class, node Node, capacity int, opts ...Option) (*Directory[T], error) {
	if alloc == nil {
		return nil, fmt.Errorf("objects: %s directory needs an allocator", class)
	}
	if capacity < 1 || capacity > MaxIndex {
		return nil, fmt.Errorf("objects: %s capacity %d out of range [1, %d]", class, capacity, MaxIndex)
	}
	o := options{fatal: defaultFatal}
	for _, fn := range opts {
		fn(&o)
	}
	if o.fatal == nil {
		o.fatal = defaultFatal
	}

	d := &Directory[T]{
		alloc: alloc,
		class: class,
		node:  node,
		max:   uint16(capacity),
		slots: make([]slot[T], capacity+1),
		head:  noSlot,
		tail:  noSlot,
		fatal: o.fatal,
	}
	for i := MinIndex; i <= capacity; i++ {
		d.slots[i].state.Store(1 << 1) // generation 1, free
		d.push(int32(i))
	}
	return d, nil
}

func (d *Directory[T]) Class() Class { return d.class }
func (d *Directory[T]) Node() Node   { return d.node }

// Allocate pops the head of the free chain. The directory is left untouched
// when the chain is empty.
func (d *Directory[T]) Allocate(g *Guard) (ID, *T, error) {
	d.mustHold(g)
	if d.head == noSlot {
		return 0, nil, fmt.Errorf("%s table full (%d slots): %w", d.class, d.max, status.ErrResourceExhausted)
	}
	idx := d.head
	s := &d.slots[idx]
	gen, allocated := s.word()
	if !s.onChain || allocated {
		d.corrupt(uint16(idx), "free chain head is allocated")
	}
	d.head = s.next
	if d.head == noSlot {
		d.tail = noSlot
	}
	s.next = noSlot
	s.onChain = false
	s.state.Store(uint64(gen)<<1 | allocatedBit)
	d.free.Add(-1)
	return Build(d.node, d.class, uint16(idx), gen), &s.value, nil
}

// Free returns the slot named by id to the tail of the free chain and bumps
// its generation so id can never validate again.
func (d *Directory[T]) Free(g *Guard, id ID) error {
	d.mustHold(g)
	s, err := d.lookup(id)
	if err != nil {
		return err
	}
	if s.onChain {
		d.corrupt(id.Index(), "allocated slot is on the free chain")
	}
	next := id.Generation() + 1
	if next == 0 {
		next = 1
	}
	s.state.Store(uint64(next) << 1)
	d.push(int32(id.Index()))
	return nil
}

// Get validates id and returns its slot value. It does not take the
// allocator lock: the atomic state word is the only thing it reads.
func (d *Directory[T]) Get(id ID) (*T, error) {
	s, err := d.lookup(id)
	if err != nil {
		return nil, err
	}
	return &s.value, nil
}

// Range calls fn for every allocated slot until fn returns false.
// Slots allocated or freed concurrently may or may not be visited.
func (d *Directory[T]) Range(fn func(id ID, v *T) bool) {
	for i := MinIndex; i <= int(d.max); i++ {
		s := &d.slots[i]
		gen, allocated := s.word()
		if !allocated {
			continue
		}
		if !fn(Build(d.node, d.class, uint16(i), gen), &s.value) {
			return
		}
	}
}

func (d *Directory[T]) Stats() Stats {
	free := int(d.free.Load())
	return Stats{
		Class:     d.class,
		Node:      d.node,
		Capacity:  int(d.max),
		Allocated: int(d.max) - free,
		Free:      free,
	}
}

func (d *Directory[T]) lookup(id ID) (*slot[T], error) {
	if id.Node() != d.node {
		return nil, fmt.Errorf("%s %s: not on node %d: %w", d.class, id, d.node, status.ErrInvalidID)
	}
	if id.Class() != d.class {
		return nil, fmt.Errorf("%s %s: wrong class: %w", d.class, id, status.ErrInvalidID)
	}
	idx := id.Index()
	if idx < MinIndex || idx > d.max {
		return nil, fmt.Errorf("%s %s: index out of range: %w", d.class, id, status.ErrInvalidID)
	}
	s := &d.slots[idx]
	gen, allocated := s.word()
	if !allocated || gen != id.Generation() {
		return nil, fmt.Errorf("%s %s: not allocated: %w", d.class, id, status.ErrInvalidID)
	}
	return s, nil
}

func (d *Directory[T]) push(idx int32) {
	s := &d.slots[idx]
	s.next = noSlot
	s.onChain = true
	if d.tail == noSlot {
		d.head = idx
	} else {
		d.slots[d.tail].next = idx
	}
	d.tail = idx
	d.free.Add(1)
}

func (d *Directory[T]) mustHold(g *Guard) {
	if !g.holds(d.alloc) {
		d.corrupt(0, "mutation without the allocator lock")
	}
}

func (d *Directory[T]) corrupt(idx uint16, reason string) {
	err := &FatalError{Class: d.class, Index: idx, Reason: reason}
	d.fatal(err)
	panic(err)
}
