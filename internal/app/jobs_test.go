package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcore/pkg/logx"
)

func TestJobsRejectBadSpec(t *testing.T) {
	t.Parallel()
	j := NewJobs(logx.Nop())
	assert.Error(t, j.Add("x", "not a spec", 0, func(context.Context) error { return nil }))
	assert.Empty(t, j.Snapshot())
}

func TestJobsSkipOverlappingRuns(t *testing.T) {
	t.Parallel()
	j := NewJobs(logx.Nop())
	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, j.Add("slow", "@every 1h", 0, func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	defer j.Stop(context.Background())

	jb := j.jobs[0]
	go j.run(jb)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	j.run(jb)
	close(release)

	require.Eventually(t, func() bool { return !jb.running.Load() }, time.Second, 5*time.Millisecond)
	snap := j.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Runs)
	assert.Equal(t, uint64(1), snap[0].Skipped)
	assert.False(t, snap[0].Next.IsZero())
}
