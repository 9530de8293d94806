// Package status defines the error vocabulary shared by every directive.
//
// Directives return the sentinel errors below (possibly wrapped with %w).
// Code is the compact form of the same vocabulary; it is what crosses the
// wire between nodes so a remote reply maps back onto the local errors.
package status

import (
	"errors"
	"fmt"
)

type Code uint8

const (
	Successful Code = iota
	InvalidID
	InvalidPriority
	ResourceExhausted
	InvalidState
	InvalidName
	InvalidNode
	Unsatisfied
)

var (
	ErrInvalidID         = errors.New("invalid identifier")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidNode       = errors.New("invalid node")

	// ErrUnsatisfied reports a remote directive that could not be delivered
	// or answered. The local directive is not retried.
	ErrUnsatisfied = errors.New("unsatisfied")
)

var codeErrors = map[Code]error{
	InvalidID:         ErrInvalidID,
	InvalidPriority:   ErrInvalidPriority,
	ResourceExhausted: ErrResourceExhausted,
	InvalidState:      ErrInvalidState,
	InvalidName:       ErrInvalidName,
	InvalidNode:       ErrInvalidNode,
	Unsatisfied:       ErrUnsatisfied,
}

func (c Code) String() string {
	switch c {
	case Successful:
		return "successful"
	case InvalidID:
		return "invalid_id"
	case InvalidPriority:
		return "invalid_priority"
	case ResourceExhausted:
		return "resource_exhausted"
	case InvalidState:
		return "invalid_state"
	case InvalidName:
		return "invalid_name"
	case InvalidNode:
		return "invalid_node"
	case Unsatisfied:
		return "unsatisfied"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Err returns the sentinel for c, nil for Successful.
// Unknown codes map to ErrUnsatisfied so a newer peer never produces a
// silent success.
func (c Code) Err() error {
	if c == Successful {
		return nil
	}
	if err, ok := codeErrors[c]; ok {
		return err
	}
	return fmt.Errorf("%w: unknown remote status %d", ErrUnsatisfied, uint8(c))
}

// FromError maps err onto its Code. Errors outside the vocabulary are
// reported as Unsatisfied.
func FromError(err error) Code {
	if err == nil {
		return Successful
	}
	for c, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return c
		}
	}
	return Unsatisfied
}
