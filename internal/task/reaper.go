package task

import (
	"context"
	"errors"
	"fmt"

	"taskcore/internal/objects"
	"taskcore/internal/status"
	"taskcore/pkg/logx"
)

type zombie struct {
	id objects.ID
	c  *Control
	// pending holds the peers that have not acknowledged the extract
	// notice for a global task.
	pending map[objects.Node]struct{}
}

// bury appends c to the zombie list. Caller holds the allocator lock and has
// already moved c to StateZombie.
func (m *Manager) bury(c *Control) {
	z := zombie{id: c.id, c: c}
	if c.global {
		for _, p := range m.loc.Peers() {
			if p == m.pool.Node() {
				continue
			}
			if z.pending == nil {
				z.pending = map[objects.Node]struct{}{}
			}
			z.pending[p] = struct{}{}
		}
	}
	c.reclaim = reclaimQueued
	m.zombies = append(m.zombies, z)
}

// reap frees every zombie that nothing refers to any more, oldest first.
// Delete never lists a zombie it still pins, but a directive that pinned the
// task before it died (a Suspend racing a Delete, say) can still hold it.
// Such zombies, and those waiting on peer acknowledgments, stay on the list
// in their original order until a later reap.
func (m *Manager) reap(g *objects.Guard) []objects.ID {
	if len(m.zombies) == 0 {
		return nil
	}
	var reaped []objects.ID
	kept := m.zombies[:0]
	for _, z := range m.zombies {
		if len(z.pending) > 0 || z.c.pins.Load() > 0 {
			kept = append(kept, z)
			continue
		}
		z.c.reclaim = reclaimNone
		z.c.state.Store(int32(StateFree))
		if err := m.pool.Free(g, z.id); err != nil {
			// The slot was freed behind our back; nothing to reclaim.
			m.log.Error("zombie already freed", logx.Stringer("id", z.id), logx.Err(err))
			continue
		}
		reaped = append(reaped, z.id)
	}
	for i := len(kept); i < len(m.zombies); i++ {
		m.zombies[i] = zombie{}
	}
	m.zombies = kept
	return reaped
}

// Reap runs the reaper outside of an allocation, e.g. from a maintenance
// job. It returns the IDs it reclaimed.
func (m *Manager) Reap() []objects.ID {
	g := m.alloc.Lock()
	reaped := m.reap(g)
	g.Unlock()
	m.publishReaped(reaped)
	return reaped
}

// sendExtracts tells every peer that has not yet acknowledged that the
// global task id is gone.
func (m *Manager) sendExtracts(ctx context.Context, id objects.ID) error {
	g := m.alloc.Lock()
	var peers []objects.Node
	for _, z := range m.zombies {
		if z.id != id {
			continue
		}
		for p := range z.pending {
			peers = append(peers, p)
		}
		break
	}
	g.Unlock()

	var errs []error
	for _, p := range peers {
		resp, err := m.loc.Forward(ctx, p, Request{Op: OpExtract, ID: id, Source: m.pool.Node()})
		if err == nil && resp.Code != status.Successful {
			err = resp.Code.Err()
		}
		if err != nil {
			m.log.Warn("extract notice not acknowledged",
				logx.Stringer("id", id), logx.Int("peer", int(p)), logx.Err(err))
			errs = append(errs, fmt.Errorf("node %d: %w", p, err))
			continue
		}
		m.ack(id, p)
	}
	return errors.Join(errs...)
}

func (m *Manager) ack(id objects.ID, peer objects.Node) {
	g := m.alloc.Lock()
	defer g.Unlock()
	for i := range m.zombies {
		if m.zombies[i].id == id {
			delete(m.zombies[i].pending, peer)
			return
		}
	}
}

// FlushNotices retries extract notices for every zombie still waiting on a
// peer. Zombies become reapable once all peers acknowledged.
func (m *Manager) FlushNotices(ctx context.Context) error {
	g := m.alloc.Lock()
	var ids []objects.ID
	for _, z := range m.zombies {
		if len(z.pending) > 0 {
			ids = append(ids, z.id)
		}
	}
	g.Unlock()

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.sendExtracts(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
