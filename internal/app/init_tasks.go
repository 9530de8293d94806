package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"taskcore/internal/config"
	"taskcore/internal/priority"
	"taskcore/internal/task"
	logx "taskcore/pkg/logx"
)

// Option customizes New.
type Option func(*options)

type options struct {
	entries map[string]task.Entry
}

// WithEntries registers task bodies that tasks.init refers to by name. A
// name registered twice keeps the last body.
func WithEntries(entries map[string]task.Entry) Option {
	return func(o *options) {
		for name, fn := range entries {
			o.entries[name] = fn
		}
	}
}

func defaultOptions() *options {
	return &options{entries: map[string]task.Entry{
		// idle holds a slot until the node stops.
		"idle": func(ctx context.Context, _ any) { <-ctx.Done() },
	}}
}

// resolveInitTasks binds every tasks.init item to a registered body so an
// unknown entry fails at build time instead of half way through Start.
func resolveInitTasks(items []config.InitTask, entries map[string]task.Entry) ([]task.Attributes, error) {
	out := make([]task.Attributes, 0, len(items))
	for i, it := range items {
		fn := entries[strings.TrimSpace(it.Entry)]
		if fn == nil {
			known := make([]string, 0, len(entries))
			for name := range entries {
				known = append(known, name)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("tasks.init[%d] (%s): unknown entry %q (registered: %s)",
				i, it.Name, it.Entry, strings.Join(known, ", "))
		}
		attrs := task.Attributes{
			Name:      it.Name,
			Priority:  priority.API(it.Priority),
			Entry:     fn,
			StackSize: it.StackSize,
			Global:    it.Global,
		}
		if it.Argument != "" {
			attrs.Arg = it.Argument
		}
		out = append(out, attrs)
	}
	return out, nil
}

// startInitTasks creates and starts the user initialization tasks in order.
// The first failure stops the sequence; tasks already started keep running
// until the node stops.
func (a *App) startInitTasks(ctx context.Context) error {
	for _, attrs := range a.init {
		id, err := a.tasks.Create(ctx, attrs)
		if err != nil {
			return fmt.Errorf("tasks.init %s: %w", attrs.Name, err)
		}
		if err := a.tasks.Start(ctx, id); err != nil {
			return fmt.Errorf("tasks.init %s: %w", attrs.Name, err)
		}
		a.log.Info("init task started", logx.String("name", attrs.Name), logx.Stringer("id", id))
	}
	return nil
}
