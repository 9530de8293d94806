package mp

import (
	"context"
	"fmt"
	"sync"

	"taskcore/internal/objects"
	"taskcore/internal/status"
	"taskcore/internal/task"
)

// Transport delivers a request message to node and returns its reply.
type Transport interface {
	SendDirective(ctx context.Context, node objects.Node, msg Message) (Message, error)
}

// Handler executes directives received from peers. task.Manager is one.
type Handler interface {
	Serve(ctx context.Context, req task.Request) task.Response
}

// Reply runs a request message through h and builds the reply message.
func Reply(ctx context.Context, self objects.Node, h Handler, in Message) Message {
	out := Message{Version: WireVersion, CorrID: in.CorrID, From: self}
	if in.Request == nil {
		out.Response = &task.Response{Code: status.Unsatisfied}
		return out
	}
	resp := h.Serve(ctx, *in.Request)
	out.Response = &resp
	return out
}

// Loopback connects in-process handlers. Every message still goes through
// the wire codec.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[objects.Node]Handler
	down     map[objects.Node]bool
}

func NewLoopback() *Loopback {
	return &Loopback{handlers: map[objects.Node]Handler{}, down: map[objects.Node]bool{}}
}

func (l *Loopback) Attach(node objects.Node, h Handler) {
	l.mu.Lock()
	l.handlers[node] = h
	l.mu.Unlock()
}

// SetDown makes node unreachable (or reachable again).
func (l *Loopback) SetDown(node objects.Node, down bool) {
	l.mu.Lock()
	l.down[node] = down
	l.mu.Unlock()
}

func (l *Loopback) SendDirective(ctx context.Context, node objects.Node, msg Message) (Message, error) {
	l.mu.RLock()
	h, ok := l.handlers[node]
	down := l.down[node]
	l.mu.RUnlock()
	if !ok || down {
		return Message{}, fmt.Errorf("loopback: node %d unreachable", node)
	}

	raw, err := Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	in, err := Unmarshal(raw)
	if err != nil {
		return Message{}, err
	}
	out := Reply(ctx, node, h, in)
	if raw, err = Marshal(out); err != nil {
		return Message{}, err
	}
	return Unmarshal(raw)
}
