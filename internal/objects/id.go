package objects

import "fmt"

// ID names one object: index (bits 0-15), node (16-23), class (24-31) and
// the slot generation (32-63).
type ID uint64

type (
	Node  uint8
	Class uint8
)

// Self is the zero ID. Directives interpret it as "the calling task".
const Self ID = 0

const (
	indexBits = 16
	nodeBits  = 8
	classBits = 8

	nodeShift  = indexBits
	classShift = nodeShift + nodeBits
	genShift   = classShift + classBits

	indexMask = 1<<indexBits - 1
	nodeMask  = 1<<nodeBits - 1
	classMask = 1<<classBits - 1

	// MinIndex is the first usable slot index; index 0 never names an object.
	MinIndex = 1
	// MaxIndex bounds the capacity of a single class table.
	MaxIndex = indexMask
)

// LocalNode is the node number used when multiprocessing is disabled.
const LocalNode Node = 0

// Known object classes.
const (
	ClassTask Class = 1 + iota
	ClassSemaphore
	ClassMessageQueue
)

func Build(node Node, class Class, index uint16, gen uint32) ID {
	return ID(uint64(gen)<<genShift |
		uint64(class)<<classShift |
		uint64(node)<<nodeShift |
		uint64(index))
}

func (id ID) Index() uint16      { return uint16(id & indexMask) }
func (id ID) Node() Node         { return Node(id >> nodeShift & nodeMask) }
func (id ID) Class() Class       { return Class(id >> classShift & classMask) }
func (id ID) Generation() uint32 { return uint32(id >> genShift) }

func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d#%d", id.Node(), id.Class(), id.Index(), id.Generation())
}

func (c Class) String() string {
	switch c {
	case ClassTask:
		return "task"
	case ClassSemaphore:
		return "semaphore"
	case ClassMessageQueue:
		return "message_queue"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}
