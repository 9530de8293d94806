package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskcore/internal/config"
	"taskcore/pkg/logx"
)

// Jobs triggers periodic node work (benchmark runs, peer notice flushes)
// from cron specs. A run still in progress makes the next trigger skip.
type Jobs struct {
	log    logx.Logger
	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	ctx  context.Context
	jobs []job
	ids  map[string]cron.EntryID
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      func(ctx context.Context) error
	running *atomic.Bool
	runs    *atomic.Uint64
	skipped *atomic.Uint64
}

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Runs    uint64    `json:"runs"`
	Skipped uint64    `json:"skipped"`
	Next    time.Time `json:"next,omitempty"`
}

func NewJobs(log logx.Logger) *Jobs {
	return &Jobs{
		log: log.With(logx.String("comp", "jobs")),
		parser: config.ScheduleParser,
	}
}

// Add registers fn under spec. It must be called before Start.
func (j *Jobs) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if _, err := j.parser.Parse(spec); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job{
		name: name, spec: spec, timeout: timeout, fn: fn,
		running: &atomic.Bool{}, runs: &atomic.Uint64{}, skipped: &atomic.Uint64{},
	})
	return nil
}

func (j *Jobs) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return
	}
	j.ctx = ctx
	j.c = cron.New(cron.WithParser(j.parser))
	j.ids = make(map[string]cron.EntryID, len(j.jobs))
	for _, jb := range j.jobs {
		jb := jb
		id, err := j.c.AddFunc(jb.spec, func() { j.run(jb) })
		if err != nil {
			j.log.Warn("job not scheduled", logx.String("name", jb.name), logx.Err(err))
			continue
		}
		j.ids[jb.name] = id
	}
	j.c.Start()
	j.log.Info("jobs started", logx.Int("jobs", len(j.jobs)))
}

func (j *Jobs) run(jb job) {
	if !jb.running.CompareAndSwap(false, true) {
		jb.skipped.Add(1)
		j.log.Debug("job skipped (still running)", logx.String("name", jb.name))
		return
	}
	defer jb.running.Store(false)

	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if jb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jb.timeout)
		defer cancel()
	}
	start := time.Now()
	jb.runs.Add(1)
	if err := jb.fn(ctx); err != nil {
		j.log.Warn("job failed", logx.String("name", jb.name), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return
	}
	j.log.Debug("job finished", logx.String("name", jb.name), logx.Duration("dur", time.Since(start)))
}

// Stop halts triggering and waits for running jobs or ctx.
func (j *Jobs) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Jobs) Snapshot() []JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JobInfo, 0, len(j.jobs))
	for _, jb := range j.jobs {
		info := JobInfo{Name: jb.name, Spec: jb.spec, Runs: jb.runs.Load(), Skipped: jb.skipped.Load()}
		if id, ok := j.ids[jb.name]; ok && j.c != nil {
			info.Next = j.c.Entry(id).Next
		}
		out = append(out, info)
	}
	return out
}
