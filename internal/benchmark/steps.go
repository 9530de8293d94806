package benchmark

import (
	"context"
	"fmt"

	"taskcore/internal/objects"
	"taskcore/internal/task"
)

// Parked is a scheduler that never dispatches. The suite uses it so the
// timings cover the directive layer only.
type Parked struct{}

func (Parked) EnterReady(*task.Control)                 {}
func (Parked) Block(*task.Control)                      {}
func (Parked) Remove(*task.Control)                     {}
func (Parked) RescheduleOnPriorityChange(*task.Control) {}

func idle(ctx context.Context, _ any) { <-ctx.Done() }

func (s *Suite) attrs(i int) task.Attributes {
	return task.Attributes{Name: fmt.Sprintf("BM%03d", i), Priority: s.tr.Max, Entry: idle}
}

func (s *Suite) createN(ctx context.Context, m *task.Manager, n int) ([]objects.ID, error) {
	ids := make([]objects.ID, 0, n)
	for i := 0; i < n; i++ {
		id, err := m.Create(ctx, s.attrs(i))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Suite) startN(ctx context.Context, m *task.Manager, n int) ([]objects.ID, error) {
	ids, err := s.createN(ctx, m, n)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := m.Start(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// steps lists the timed loops in report order.
func (s *Suite) steps() []step {
	one := func(ctx context.Context, m *task.Manager, _ int) ([]objects.ID, error) {
		return s.startN(ctx, m, 1)
	}
	return []step{
		{
			name: "task_create",
			body: func(ctx context.Context, m *task.Manager, _ []objects.ID, i int) error {
				_, err := m.Create(ctx, s.attrs(i))
				return err
			},
		},
		{
			name: "task_create_delete",
			body: func(ctx context.Context, m *task.Manager, _ []objects.ID, i int) error {
				id, err := m.Create(ctx, s.attrs(i))
				if err != nil {
					return err
				}
				return m.Delete(ctx, id)
			},
		},
		{
			name:  "task_start",
			setup: s.createN,
			body: func(ctx context.Context, m *task.Manager, ids []objects.ID, i int) error {
				return m.Start(ctx, ids[i])
			},
		},
		{
			name:  "task_delete",
			setup: s.startN,
			body: func(ctx context.Context, m *task.Manager, ids []objects.ID, i int) error {
				return m.Delete(ctx, ids[i])
			},
		},
		{
			name:  "task_set_priority",
			setup: one,
			body: func(ctx context.Context, m *task.Manager, ids []objects.ID, i int) error {
				p := s.tr.Min
				if i%2 == 1 {
					p = s.tr.Max
				}
				_, err := m.SetPriority(ctx, ids[0], p)
				return err
			},
		},
		{
			name:  "task_get_priority",
			setup: one,
			body: func(ctx context.Context, m *task.Manager, ids []objects.ID, _ int) error {
				_, err := m.GetPriority(ctx, ids[0])
				return err
			},
		},
		{
			name:  "task_suspend_resume",
			setup: one,
			body: func(ctx context.Context, m *task.Manager, ids []objects.ID, _ int) error {
				if err := m.Suspend(ctx, ids[0]); err != nil {
					return err
				}
				return m.Resume(ctx, ids[0])
			},
		},
		{
			name:  "task_ident",
			setup: s.createN,
			body: func(ctx context.Context, m *task.Manager, _ []objects.ID, i int) error {
				_, err := m.Ident(ctx, s.attrs(i).Name, task.SearchLocal)
				return err
			},
		},
	}
}

var _ task.Scheduler = Parked{}
