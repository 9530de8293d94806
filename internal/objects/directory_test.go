package objects

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/internal/status"
)

type block struct{ n int }

func newDir(t *testing.T, capacity int) (*Allocator, *Directory[block]) {
	t.Helper()
	a := NewAllocator()
	d, err := New[block](a, ClassTask, LocalNode, capacity)
	require.NoError(t, err)
	return a, d
}

func TestIDFields(t *testing.T) {
	t.Parallel()
	id := Build(3, ClassSemaphore, 513, 77)
	assert.Equal(t, Node(3), id.Node())
	assert.Equal(t, ClassSemaphore, id.Class())
	assert.Equal(t, uint16(513), id.Index())
	assert.Equal(t, uint32(77), id.Generation())
	assert.Equal(t, "3.2.513#77", id.String())
}

func TestNewRejectsBadCapacity(t *testing.T) {
	t.Parallel()
	a := NewAllocator()
	_, err := New[block](a, ClassTask, LocalNode, 0)
	assert.Error(t, err)
	_, err = New[block](a, ClassTask, LocalNode, MaxIndex+1)
	assert.Error(t, err)
	_, err = New[block](nil, ClassTask, LocalNode, 4)
	assert.Error(t, err)
}

func TestAllocateGetFree(t *testing.T) {
	t.Parallel()
	a, d := newDir(t, 2)

	g := a.Lock()
	id, v, err := d.Allocate(g)
	g.Unlock()
	require.NoError(t, err)
	v.n = 42

	got, err := d.Get(id)
	require.NoError(t, err)
	assert.Same(t, v, got)
	assert.Equal(t, Stats{Class: ClassTask, Node: LocalNode, Capacity: 2, Allocated: 1, Free: 1}, d.Stats())

	g = a.Lock()
	require.NoError(t, d.Free(g, id))
	err = d.Free(g, id)
	g.Unlock()
	assert.True(t, errors.Is(err, status.ErrInvalidID), "double free: %v", err)

	_, err = d.Get(id)
	assert.ErrorIs(t, err, status.ErrInvalidID)
}

func TestExhaustionLeavesDirectoryUnchanged(t *testing.T) {
	t.Parallel()
	a, d := newDir(t, 1)

	g := a.Lock()
	defer g.Unlock()
	id, _, err := d.Allocate(g)
	require.NoError(t, err)

	before := d.Stats()
	_, _, err = d.Allocate(g)
	assert.ErrorIs(t, err, status.ErrResourceExhausted)
	assert.Equal(t, before, d.Stats())

	_, err = d.Get(id)
	assert.NoError(t, err)
}

func TestReallocationYieldsDistinctID(t *testing.T) {
	t.Parallel()
	a, d := newDir(t, 1)

	g := a.Lock()
	first, _, err := d.Allocate(g)
	require.NoError(t, err)
	require.NoError(t, d.Free(g, first))
	second, _, err := d.Allocate(g)
	require.NoError(t, err)
	g.Unlock()

	assert.Equal(t, first.Index(), second.Index())
	assert.NotEqual(t, first, second)
	_, err = d.Get(first)
	assert.ErrorIs(t, err, status.ErrInvalidID)
	_, err = d.Get(second)
	assert.NoError(t, err)
}

func TestFreeChainIsFIFO(t *testing.T) {
	t.Parallel()
	a, d := newDir(t, 3)

	g := a.Lock()
	defer g.Unlock()
	var ids []ID
	for i := 0; i < 3; i++ {
		id, _, err := d.Allocate(g)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, d.Free(g, ids[1]))
	require.NoError(t, d.Free(g, ids[0]))

	next, _, err := d.Allocate(g)
	require.NoError(t, err)
	assert.Equal(t, ids[1].Index(), next.Index())
}

func TestGetValidatesFields(t *testing.T) {
	t.Parallel()
	a, d := newDir(t, 4)
	g := a.Lock()
	id, _, err := d.Allocate(g)
	g.Unlock()
	require.NoError(t, err)

	cases := map[string]ID{
		"self":        Self,
		"remote node": Build(9, ClassTask, id.Index(), id.Generation()),
		"wrong class": Build(LocalNode, ClassSemaphore, id.Index(), id.Generation()),
		"index zero":  Build(LocalNode, ClassTask, 0, id.Generation()),
		"past max":    Build(LocalNode, ClassTask, 5, 1),
		"never used":  Build(LocalNode, ClassTask, 3, 1),
		"stale gen":   Build(LocalNode, ClassTask, id.Index(), id.Generation()+1),
	}
	for name, bad := range cases {
		_, err := d.Get(bad)
		assert.ErrorIs(t, err, status.ErrInvalidID, name)
	}
}

func TestConcurrentAllocateFreeUnique(t *testing.T) {
	t.Parallel()
	const (
		workers = 8
		rounds  = 500
	)
	a, d := newDir(t, 16)

	var (
		mu   sync.Mutex
		live = map[ID]bool{}
		dup  []ID
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				g := a.Lock()
				id, _, err := d.Allocate(g)
				g.Unlock()
				if err != nil {
					continue
				}
				mu.Lock()
				if live[id] {
					dup = append(dup, id)
				}
				live[id] = true
				mu.Unlock()

				if _, err := d.Get(id); err != nil {
					t.Errorf("Get(%s) after allocate: %v", id, err)
				}

				mu.Lock()
				delete(live, id)
				mu.Unlock()

				g = a.Lock()
				if err := d.Free(g, id); err != nil {
					t.Errorf("Free(%s): %v", id, err)
				}
				g.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, dup)
	assert.Equal(t, 16, d.Stats().Free)
}

func TestMutationWithoutLockIsFatal(t *testing.T) {
	t.Parallel()
	a := NewAllocator()
	var got *FatalError
	d, err := New[block](a, ClassTask, LocalNode, 1, WithFatalHandler(func(err *FatalError) { got = err }))
	require.NoError(t, err)

	g := a.Lock()
	g.Unlock()
	assert.Panics(t, func() { _, _, _ = d.Allocate(g) })
	require.NotNil(t, got)
	assert.Contains(t, got.Error(), "allocator lock")

	other := NewAllocator().Lock()
	defer other.Unlock()
	assert.Panics(t, func() { _, _, _ = d.Allocate(other) })
}

func TestCorruptChainIsFatal(t *testing.T) {
	t.Parallel()
	a := NewAllocator()
	var got *FatalError
	d, err := New[block](a, ClassTask, LocalNode, 2, WithFatalHandler(func(err *FatalError) { got = err }))
	require.NoError(t, err)

	// Simulate a slot that is both allocated and still on the free chain.
	d.slots[1].state.Store(1<<1 | allocatedBit)

	g := a.Lock()
	defer g.Unlock()
	assert.Panics(t, func() { _, _, _ = d.Allocate(g) })
	require.NotNil(t, got)
	assert.Equal(t, uint16(1), got.Index)
}

func TestTryLock(t *testing.T) {
	t.Parallel()
	a := NewAllocator()
	assert.False(t, a.Held())
	g := a.Lock()
	assert.True(t, a.Held())
	_, ok := a.TryLock()
	assert.False(t, ok)
	g.Unlock()
	assert.False(t, a.Held())

	g2, ok := a.TryLock()
	require.True(t, ok)
	assert.True(t, a.Held())
	g2.Unlock()
	assert.False(t, a.Held())
	assert.Panics(t, func() { g2.Unlock() })
}
