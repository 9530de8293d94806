package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a lifecycle signal, e.g. "task.created".
type Kind string

// Event is an in-memory signal used to decouple the directive layer from
// recorders and diagnostics.
//
// Contract:
//   - Publish never blocks; directives call it on their hot path.
//   - Slow subscribers drop events (bounded backpressure).
type Event struct {
	Kind Kind
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel receiving events of the given
	// kinds (all kinds when none are given).
	Subscribe(buffer int, kinds ...Kind) (ch <-chan Event, unsubscribe func())
	// Dropped counts events not delivered because a subscriber was full.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s *subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the read lock; unsubscribe takes the write lock before
	// closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Nop discards everything. Used when no bus is configured.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int, ...Kind) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
func (Nop) Dropped() uint64 { return 0 }
