package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
