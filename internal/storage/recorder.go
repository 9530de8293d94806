package storage

import (
	"context"
	"time"

	"taskcore/internal/eventbus"
	"taskcore/internal/task"
	"taskcore/pkg/logx"
)

var recordedKinds = []eventbus.Kind{
	task.EventCreated, task.EventStarted, task.EventDeleted, task.EventExited, task.EventReaped,
	task.EventPriority, task.EventSuspended, task.EventResumed, task.EventRestarted,
}

// Recorder copies task lifecycle events from the bus into a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	node  int
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, node int, log logx.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, node: node, log: log.With(logx.String("comp", "recorder"))}
}

// Run records events until ctx is done. Meant to run under a supervisor.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256, recordedKinds...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	te, ok := ev.Data.(task.Event)
	if !ok {
		return
	}
	rec := EventRecord{
		At:       ev.Time,
		Node:     r.node,
		Kind:     string(ev.Kind),
		TaskID:   uint64(te.ID),
		Name:     te.Name,
		Priority: uint32(te.Priority),
		Previous: uint32(te.Previous),
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.AppendEvent(wctx, rec); err != nil {
		r.log.Warn("event not recorded", logx.String("kind", rec.Kind), logx.Err(err))
	}
}
