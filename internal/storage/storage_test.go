package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/internal/eventbus"
	"taskcore/internal/objects"
	"taskcore/internal/task"
	"taskcore/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, st.AppendEvent(ctx, EventRecord{At: time.Now(), Kind: "task.created", TaskID: 42, Name: "A"}))
	require.NoError(t, st.AppendBenchmark(ctx, BenchmarkResult{Name: "create", Iterations: 10, AvgNanos: 7}))
	require.NoError(t, st.PutBaseline(ctx, "create", 7))
	require.NoError(t, st.PutBaseline(ctx, "create", 9))
	require.NoError(t, st.Close())

	events := readLines(t, filepath.Join(dir, "node.events.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "task.created", events[0]["kind"])
	assert.Len(t, readLines(t, filepath.Join(dir, "node.bench.jsonl")), 1)

	// Baselines survive a reopen through the journal.
	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ns, ok, err := st.GetBaseline(ctx, "create")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), ns)
	_, ok, err = st.GetBaseline(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "node.sqlite"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendEvent(ctx, EventRecord{Kind: "task.started", TaskID: 1 << 40}))
	require.NoError(t, st.AppendBenchmark(ctx, BenchmarkResult{Name: "start", Iterations: 3, TotalNanos: 30, AvgNanos: 10}))

	_, ok, err := st.GetBaseline(ctx, "start")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, st.PutBaseline(ctx, "start", 10))
	require.NoError(t, st.PutBaseline(ctx, "start", 12))
	ns, ok, err := st.GetBaseline(ctx, "start")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), ns)

	n, err := st.(*sqliteStore).CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type memStore struct {
	events chan EventRecord
}

func (m *memStore) AppendEvent(_ context.Context, e EventRecord) error {
	select {
	case m.events <- e:
	default:
	}
	return nil
}
func (m *memStore) AppendBenchmark(context.Context, BenchmarkResult) error { return nil }
func (m *memStore) PutBaseline(context.Context, string, uint64) error { return nil }
func (m *memStore) GetBaseline(context.Context, string) (uint64, bool, error) {
	return 0, false, nil
}
func (m *memStore) Close() error { return nil }

func TestRecorderCopiesTaskEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := &memStore{events: make(chan EventRecord, 4)}
	rec := NewRecorder(st, bus, 3, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	id := objects.Build(3, objects.ClassTask, 1, 1)
	// The subscription is set up asynchronously; publish until it lands.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Kind: task.EventPriority, Data: task.Event{ID: id, Name: "A", Priority: 4, Previous: 9}})
		bus.Publish(eventbus.Event{Kind: "other", Data: "ignored"})
		return len(st.events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	got := <-st.events
	assert.Equal(t, "task.priority", got.Kind)
	assert.Equal(t, 3, got.Node)
	assert.Equal(t, uint64(id), got.TaskID)
	assert.Equal(t, uint32(4), got.Priority)
	assert.Equal(t, uint32(9), got.Previous)

	cancel()
	require.NoError(t, <-done)
}
