package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/internal/objects"
	"taskcore/pkg/logx"
)

const sampleYAML = `
node:
  id: 1
tasks:
  max: 16
  init:
    - name: MAIN
      priority: 10
      entry: idle
      argument: boot
      global: true
priority:
  min: 1
  max: 100
timer:
  least_valid: 0
  overhead: 5
mp:
  enabled: true
  listen: 127.0.0.1:7401
  peers:
    "2": http://127.0.0.1:7402
  flush_schedule: "@every 15s"
logging:
  level: debug
storage:
  driver: file
  path: ./data/node
benchmark:
  schedule: "*/10 * * * *"
  iterations: 100
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("node.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Node.ID)
	assert.Equal(t, 16, cfg.Tasks.Max)
	assert.Equal(t, []InitTask{{Name: "MAIN", Priority: 10, Entry: "idle", Argument: "boot", Global: true}}, cfg.Tasks.Init)
	require.NotNil(t, cfg.Timer.LeastValid)
	assert.Equal(t, uint64(0), *cfg.Timer.LeastValid)
	assert.Equal(t, "file", cfg.Storage.Driver)

	peers, err := cfg.PeerMap()
	require.NoError(t, err)
	assert.Equal(t, map[objects.Node]string{2: "http://127.0.0.1:7402"}, peers)
}

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("node.json", []byte(`{"node":{"id":0},"bogus":1}`))
	assert.Error(t, err)
	_, err = Decode("node.json", []byte(`{} {}`))
	assert.Error(t, err)
	cfg, err := Decode("node.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, cfg.Timer.LeastValid)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"node id":        `{"node":{"id":300}}`,
		"priority order": `{"priority":{"min":10,"max":5}}`,
		"priority min":   `{"priority":{"max":5}}`,
		"log level":      `{"logging":{"level":"loud"}}`,
		"mp listen":      `{"mp":{"enabled":true}}`,
		"mp peer key":    `{"mp":{"enabled":true,"listen":":1","peers":{"x":"http://a"}}}`,
		"mp peer self":   `{"node":{"id":2},"mp":{"enabled":true,"listen":":1","peers":{"2":"http://a"}}}`,
		"mp timeout":     `{"mp":{"timeout":"soon"}}`,
		"schedule":       `{"benchmark":{"schedule":"every tuesday"}}`,
		"storage path":   `{"storage":{"driver":"sqlite"}}`,
		"init priority":  `{"tasks":{"init":[{"name":"A","priority":300,"entry":"idle"}]}}`,
		"init entry":     `{"tasks":{"init":[{"name":"A","priority":3}]}}`,
		"storage driver": `{"storage":{"driver":"redis","path":"x"}}`,
	}
	for name, raw := range tests {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.json", []byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("b.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, restart, _ := SummarizeChange(a, b)
	assert.Empty(t, changed)
	assert.Empty(t, restart)

	b.Logging.Level = "warn"
	b.MP.Token = "s3cret"
	changed, restart, _ = SummarizeChange(a, b)
	assert.Equal(t, []string{"logging", "mp"}, changed)
	assert.Equal(t, []string{"mp"}, restart)
}

func TestSettingDurations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: DefaultMPTimeout},
		{raw: "0s", want: DefaultMPTimeout},
		{raw: " 2s ", want: 2 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := MPConfig{Timeout: tt.raw}.TimeoutDuration()
		if tt.wantErr {
			assert.ErrorContains(t, err, "mp.timeout", "raw %q", tt.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got, "raw %q", tt.raw)
	}

	busy, err := StorageConfig{}.BusyTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultBusyTimeout, busy)
	busy, err = StorageConfig{BusyTimeout: "250ms"}.BusyTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, busy)
	_, err = StorageConfig{BusyTimeout: "-5ms"}.BusyTimeoutDuration()
	assert.ErrorContains(t, err, "storage.busy_timeout")
}

func TestValidateSchedules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec string
		ok   bool
	}{
		{spec: "*/10 * * * *", ok: true},
		{spec: "*/15 * * * * *", ok: true},
		{spec: "@every 30s", ok: true},
		{spec: "@hourly", ok: true},
		{spec: "every tuesday"},
		{spec: "* * *"},
	}
	for _, tt := range tests {
		for _, raw := range []string{
			`{"benchmark":{"schedule":"` + tt.spec + `"}}`,
			`{"mp":{"flush_schedule":"` + tt.spec + `"}}`,
		} {
			_, err := Decode("c.json", []byte(raw))
			if tt.ok {
				assert.NoError(t, err, raw)
			} else {
				assert.Error(t, err, raw)
			}
		}
		_, err := ScheduleParser.Parse(tt.spec)
		assert.Equal(t, tt.ok, err == nil, tt.spec)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Rewrite slower than the debounce until the watcher is up and the change lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(600 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.Equal(t, "debug", m.Get().Logging.Level)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
