package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupWithExporterRecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := SetupWithExporter(Config{Enabled: true, Node: 3}, exp, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "mp.forward")
	span.End()

	// The in-memory exporter drops its spans on shutdown.
	spans := exp.GetSpans()
	defer func() { require.NoError(t, shutdown(context.Background())) }()
	require.Len(t, spans, 1)
	assert.Equal(t, "mp.forward", spans[0].Name)
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "taskcore.node" {
			found = true
			assert.Equal(t, int64(3), kv.Value.AsInt64())
		}
	}
	assert.True(t, found)
}

func TestSetupWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Setup(Config{Enabled: true, Output: out})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "task.create")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "task.create")
}
