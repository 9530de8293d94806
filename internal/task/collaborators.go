package task

import (
	"context"
	"fmt"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/status"
)

// Scheduler owns the ready-queue policy. The manager only calls into it,
// and never while the allocator lock is held.
type Scheduler interface {
	// EnterReady makes c eligible to run. c is already in StateReady.
	EnterReady(c *Control)
	// Block takes c off the ready queue. c is already in StateBlocked.
	Block(c *Control)
	// Remove drops every scheduler reference to c and cancels a running
	// body. A body that is executing still reports its return.
	Remove(c *Control)
	RescheduleOnPriorityChange(c *Control)
}

// Op is a directive that can be executed on behalf of another node.
type Op uint8

const (
	OpStart Op = iota + 1
	OpDelete
	OpSuspend
	OpResume
	OpRestart
	OpSetPriority
	OpGetPriority
	OpLookup
	OpAnnounce
	OpExtract
)

var opNames = map[Op]string{
	OpStart:       "start",
	OpDelete:      "delete",
	OpSuspend:     "suspend",
	OpResume:      "resume",
	OpRestart:     "restart",
	OpSetPriority: "set_priority",
	OpGetPriority: "get_priority",
	OpLookup:      "lookup",
	OpAnnounce:    "announce",
	OpExtract:     "extract",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Request is a directive addressed to another node.
type Request struct {
	Op       Op           `cbor:"1,keyasint" json:"op"`
	ID       objects.ID   `cbor:"2,keyasint" json:"id"`
	Priority priority.API `cbor:"3,keyasint,omitempty" json:"priority,omitempty"`
	Name     string       `cbor:"4,keyasint,omitempty" json:"name,omitempty"`
	Source   objects.Node `cbor:"5,keyasint" json:"source"`
}

// Response carries the remote status plus whatever the directive returns.
type Response struct {
	Code     status.Code  `cbor:"1,keyasint" json:"code"`
	Priority priority.API `cbor:"2,keyasint,omitempty" json:"priority,omitempty"`
	Info     *Info        `cbor:"3,keyasint,omitempty" json:"info,omitempty"`
}

// Locator decides how identifiers of other nodes are handled.
type Locator interface {
	Node() objects.Node
	Peers() []objects.Node
	// Forward executes req on node and returns its reply. Delivery
	// failures wrap status.ErrUnsatisfied.
	Forward(ctx context.Context, node objects.Node, req Request) (Response, error)
}

// LocalOnly is the single-node locator: any identifier naming another node
// is invalid.
type LocalOnly struct{}

func (LocalOnly) Node() objects.Node    { return objects.LocalNode }
func (LocalOnly) Peers() []objects.Node { return nil }

func (LocalOnly) Forward(_ context.Context, node objects.Node, req Request) (Response, error) {
	return Response{Code: status.InvalidID}, fmt.Errorf("%s %s: node %d is not reachable: %w", req.Op, req.ID, node, status.ErrInvalidID)
}
