package mp

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"taskcore/internal/objects"
	"taskcore/internal/status"
	"taskcore/internal/task"
	"taskcore/pkg/logx"
)

const tracerName = "taskcore/mp"

type ProxyConfig struct {
	Node  objects.Node
	Peers []objects.Node
	// RatePerSec bounds outbound directives; 0 disables the limit.
	RatePerSec int
}

// Proxy is the multiprocessing task.Locator: directives naming another node
// are sent over the Transport and the remote status is mapped back.
type Proxy struct {
	node    objects.Node
	peers   []objects.Node
	known   map[objects.Node]bool
	tr      Transport
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     logx.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewProxy(cfg ProxyConfig, tr Transport, log logx.Logger) *Proxy {
	p := &Proxy{
		node:   cfg.Node,
		known:  map[objects.Node]bool{},
		tr:     tr,
		tracer: otel.Tracer(tracerName),
		log:    log.With(logx.String("comp", "mp.proxy")),
	}
	for _, n := range cfg.Peers {
		if n == cfg.Node || p.known[n] {
			continue
		}
		p.known[n] = true
		p.peers = append(p.peers, n)
	}
	sort.Slice(p.peers, func(i, j int) bool { return p.peers[i] < p.peers[j] })
	if cfg.RatePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return p
}

func (p *Proxy) Node() objects.Node { return p.node }

func (p *Proxy) Peers() []objects.Node { return append([]objects.Node(nil), p.peers...) }

func (p *Proxy) Forward(ctx context.Context, node objects.Node, req task.Request) (task.Response, error) {
	if !p.known[node] {
		return task.Response{Code: status.InvalidNode}, fmt.Errorf("%s %s: node %d is not a peer: %w", req.Op, req.ID, node, status.ErrInvalidNode)
	}

	ctx, span := p.tracer.Start(ctx, "mp."+req.Op.String(), trace.WithAttributes(
		attribute.Int("mp.node", int(node)),
		attribute.String("mp.id", req.ID.String()),
	))
	defer span.End()

	resp, err := p.send(ctx, node, req)
	if err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Debug("directive not delivered", logx.String("op", req.Op.String()), logx.Int("node", int(node)), logx.Err(err))
		return task.Response{Code: status.Unsatisfied}, fmt.Errorf("%s %s via node %d: %v: %w", req.Op, req.ID, node, err, status.ErrUnsatisfied)
	}
	span.SetAttributes(attribute.String("mp.status", resp.Code.String()))
	return resp, nil
}

func (p *Proxy) send(ctx context.Context, node objects.Node, req task.Request) (task.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return task.Response{}, err
		}
	}
	p.sent.Add(1)
	corr := uuid.NewString()
	reply, err := p.tr.SendDirective(ctx, node, Message{Version: WireVersion, CorrID: corr, From: p.node, Request: &req})
	if err != nil {
		return task.Response{}, err
	}
	if reply.CorrID != corr {
		return task.Response{}, fmt.Errorf("reply correlation %q, want %q", reply.CorrID, corr)
	}
	if reply.Response == nil {
		return task.Response{}, fmt.Errorf("empty reply")
	}
	return *reply.Response, nil
}

type ProxyStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

func (p *Proxy) Stats() ProxyStats {
	return ProxyStats{Sent: p.sent.Load(), Failed: p.failed.Load()}
}

var _ task.Locator = (*Proxy)(nil)
