package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/status"
)

// cluster routes requests between in-process managers.
type cluster struct {
	mu    sync.Mutex
	nodes map[objects.Node]*Manager
	down  atomic.Bool
}

type link struct {
	c    *cluster
	self objects.Node
}

func (l link) Node() objects.Node { return l.self }

func (l link) Peers() []objects.Node {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	var out []objects.Node
	for n := range l.c.nodes {
		if n != l.self {
			out = append(out, n)
		}
	}
	return out
}

func (l link) Forward(ctx context.Context, node objects.Node, req Request) (Response, error) {
	if l.c.down.Load() {
		return Response{}, fmt.Errorf("link down: %w", status.ErrUnsatisfied)
	}
	l.c.mu.Lock()
	m, ok := l.c.nodes[node]
	l.c.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("no node %d: %w", node, status.ErrInvalidNode)
	}
	return m.Serve(ctx, req), nil
}

func newCluster(t *testing.T, capacity int, nodes ...objects.Node) (*cluster, map[objects.Node]*Manager) {
	t.Helper()
	c := &cluster{nodes: map[objects.Node]*Manager{}}
	for _, n := range nodes {
		a := objects.NewAllocator()
		m, err := New(Config{MaxTasks: capacity}, priority.Default(), &fakeSched{alloc: a},
			WithAllocator(a), WithLocator(link{c: c, self: n}))
		require.NoError(t, err)
		c.nodes[n] = m
	}
	return c, c.nodes
}

func TestRemoteDirectivesAreForwarded(t *testing.T) {
	t.Parallel()
	_, nodes := newCluster(t, 2, 1, 2)
	ctx := context.Background()

	id, err := nodes[1].Create(ctx, attrs("worker", 10))
	require.NoError(t, err)
	assert.Equal(t, objects.Node(1), id.Node())

	require.NoError(t, nodes[2].Start(ctx, id))
	assert.ErrorIs(t, nodes[2].Start(ctx, id), status.ErrInvalidState)

	old, err := nodes[2].SetPriority(ctx, id, 7)
	require.NoError(t, err)
	assert.Equal(t, priority.API(10), old)

	p, err := nodes[2].GetPriority(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, priority.API(7), p)

	info, err := nodes[2].Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "worker", info.Name)
	assert.Equal(t, StateReady, info.State)

	require.NoError(t, nodes[2].Suspend(ctx, id))
	require.NoError(t, nodes[2].Resume(ctx, id))
	require.NoError(t, nodes[2].Restart(ctx, id))
	require.NoError(t, nodes[2].Delete(ctx, id))
	assert.ErrorIs(t, nodes[2].Delete(ctx, id), status.ErrInvalidID)

	unknown := objects.Build(9, objects.ClassTask, 1, 1)
	assert.ErrorIs(t, nodes[2].Start(ctx, unknown), status.ErrInvalidNode)
}

func TestServeRejectsForeignIDs(t *testing.T) {
	t.Parallel()
	_, nodes := newCluster(t, 1, 1)
	resp := nodes[1].Serve(context.Background(), Request{Op: OpStart, ID: objects.Build(3, objects.ClassTask, 1, 1)})
	assert.Equal(t, status.InvalidID, resp.Code)
	resp = nodes[1].Serve(context.Background(), Request{Op: OpStart, ID: objects.Self})
	assert.Equal(t, status.InvalidID, resp.Code)
}

func TestServeRejectsUnknownOps(t *testing.T) {
	t.Parallel()
	_, nodes := newCluster(t, 1, 1)
	ctx := context.Background()
	id, err := nodes[1].Create(ctx, attrs("A", 10))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
	}{
		{name: "zero id", req: Request{Op: Op(99)}},
		{name: "local id", req: Request{Op: Op(99), ID: id}},
		{name: "zero op", req: Request{ID: id}},
	}
	for _, tt := range tests {
		resp := nodes[1].Serve(ctx, tt.req)
		assert.Equal(t, status.Unsatisfied, resp.Code, tt.name)
	}
}

func TestGlobalTaskLifecycle(t *testing.T) {
	t.Parallel()
	c, nodes := newCluster(t, 1, 1, 2)
	ctx := context.Background()

	g := Attributes{Name: "svc", Priority: 20, Global: true}
	id, err := nodes[1].Create(ctx, g)
	require.NoError(t, err)

	got, err := nodes[2].Ident(ctx, "svc", SearchAll)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = nodes[2].Ident(ctx, "svc", SearchLocal)
	assert.ErrorIs(t, err, status.ErrInvalidName)

	// Peer unreachable: the zombie must wait for its acknowledgment.
	c.down.Store(true)
	require.NoError(t, nodes[1].Delete(ctx, id))
	snap := nodes[1].Snapshot()
	assert.Equal(t, 1, snap.Zombies)
	assert.Equal(t, 1, snap.PendingAcks)

	_, err = nodes[1].Create(ctx, attrs("next", 10))
	require.ErrorIs(t, err, status.ErrResourceExhausted)
	assert.Error(t, nodes[1].FlushNotices(ctx))

	c.down.Store(false)
	require.NoError(t, nodes[1].FlushNotices(ctx))
	assert.Equal(t, 0, nodes[1].Snapshot().PendingAcks)

	_, err = nodes[2].Ident(ctx, "svc", SearchAll)
	assert.ErrorIs(t, err, status.ErrInvalidName)

	_, err = nodes[1].Create(ctx, attrs("next", 10))
	require.NoError(t, err)
}

func TestAnnounceValidatesSource(t *testing.T) {
	t.Parallel()
	_, nodes := newCluster(t, 1, 1, 2)
	forged := objects.Build(1, objects.ClassTask, 1, 1)
	resp := nodes[2].Serve(context.Background(), Request{Op: OpAnnounce, ID: forged, Name: "x", Source: 3})
	assert.Equal(t, status.InvalidID, resp.Code)
	resp = nodes[2].Serve(context.Background(), Request{Op: OpAnnounce, ID: forged, Source: 1})
	assert.Equal(t, status.InvalidName, resp.Code)
}
