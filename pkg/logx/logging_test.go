package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
}

func TestWithFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn").With(String("comp", "objects"))

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}

	l.Warn("table full", Int("capacity", 4), Err(errors.New("boom")))
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["comp"] != "objects" || m["message"] != "table full" || m["err"] != "boom" {
		t.Fatalf("unexpected event: %v", m)
	}
	if m["capacity"] != float64(4) {
		t.Fatalf("capacity = %v", m["capacity"])
	}
}

func TestParseLevelDefault(t *testing.T) {
	if got := parseLevel("nonsense", LevelInfo); got != LevelInfo {
		t.Fatalf("parseLevel default = %v", got)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
}
