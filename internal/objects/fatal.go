package objects

import "fmt"

// FatalError describes a broken directory invariant. It indicates a
// synchronization bug, never a caller mistake.
type FatalError struct {
	Class  Class
	Index  uint16
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("objects: fatal: %s directory slot %d: %s", e.Class, e.Index, e.Reason)
}

// FatalHandler receives invariant violations. It is expected not to return;
// if it does, the directory panics with the same error.
type FatalHandler func(err *FatalError)

func defaultFatal(err *FatalError) { panic(err) }
