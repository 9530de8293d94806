package task

import (
	"context"
	"fmt"

	"taskcore/internal/objects"
	"taskcore/internal/status"
	"taskcore/pkg/logx"
)

func (m *Manager) forward(ctx context.Context, req Request) (Response, error) {
	req.Source = m.pool.Node()
	node := req.ID.Node()
	resp, err := m.loc.Forward(ctx, node, req)
	if err != nil {
		return resp, err
	}
	if resp.Code != status.Successful {
		return resp, fmt.Errorf("%s %s on node %d: %w", req.Op, req.ID, node, resp.Code.Err())
	}
	return resp, nil
}

// announce publishes a global task's name to every peer. A peer that cannot
// be reached only loses the ability to Ident the task by name.
func (m *Manager) announce(ctx context.Context, id objects.ID, name string) {
	for _, p := range m.loc.Peers() {
		if p == m.pool.Node() {
			continue
		}
		resp, err := m.loc.Forward(ctx, p, Request{Op: OpAnnounce, ID: id, Name: name, Source: m.pool.Node()})
		if err == nil && resp.Code != status.Successful {
			err = resp.Code.Err()
		}
		if err != nil {
			m.log.Warn("global task announce failed",
				logx.Stringer("id", id), logx.Int("peer", int(p)), logx.Err(err))
		}
	}
}

// Serve executes a directive received from another node and builds the
// reply. Errors are folded into the status code.
func (m *Manager) Serve(ctx context.Context, req Request) Response {
	if req.Op < OpStart || req.Op > OpExtract {
		m.log.Debug("unknown remote op", logx.Int("op", int(req.Op)), logx.Int("source", int(req.Source)))
		return Response{Code: status.Unsatisfied}
	}
	if req.Op != OpAnnounce && req.Op != OpExtract {
		if req.ID == objects.Self || req.ID.Node() != m.pool.Node() {
			return Response{Code: status.InvalidID}
		}
	}

	var (
		resp Response
		err  error
	)
	switch req.Op {
	case OpStart:
		err = m.Start(ctx, req.ID)
	case OpDelete:
		err = m.Delete(ctx, req.ID)
	case OpSuspend:
		err = m.Suspend(ctx, req.ID)
	case OpResume:
		err = m.Resume(ctx, req.ID)
	case OpRestart:
		err = m.Restart(ctx, req.ID)
	case OpSetPriority:
		resp.Priority, err = m.SetPriority(ctx, req.ID, req.Priority)
	case OpGetPriority:
		resp.Priority, err = m.GetPriority(ctx, req.ID)
	case OpLookup:
		var info Info
		if info, err = m.Lookup(ctx, req.ID); err == nil {
			resp.Info = &info
		}
	case OpAnnounce:
		err = m.addGlobal(req)
	case OpExtract:
		m.removeGlobal(req.ID)
	}
	resp.Code = status.FromError(err)
	if err != nil {
		m.log.Debug("remote directive failed",
			logx.String("op", req.Op.String()), logx.Stringer("id", req.ID),
			logx.Int("source", int(req.Source)), logx.Err(err))
	}
	return resp
}

func (m *Manager) addGlobal(req Request) error {
	if req.Name == "" {
		return fmt.Errorf("announce %s: empty name: %w", req.ID, status.ErrInvalidName)
	}
	if req.ID.Node() != req.Source || req.ID.Class() != objects.ClassTask {
		return fmt.Errorf("announce %s from node %d: %w", req.ID, req.Source, status.ErrInvalidID)
	}
	m.gmu.Lock()
	m.globals[req.Name] = req.ID
	m.gmu.Unlock()
	return nil
}

// removeGlobal acknowledges an extract notice. Unknown IDs are acknowledged
// too so a retried notice always succeeds.
func (m *Manager) removeGlobal(id objects.ID) {
	m.gmu.Lock()
	for name, gid := range m.globals {
		if gid == id {
			delete(m.globals, name)
		}
	}
	m.gmu.Unlock()
}
