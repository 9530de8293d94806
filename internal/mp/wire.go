package mp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"taskcore/internal/objects"
	"taskcore/internal/task"
)

const (
	WireVersion = 1
	ContentType = "application/cbor"
)

// Message is the unit exchanged between nodes: a request going out or the
// reply coming back, matched by CorrID.
type Message struct {
	Version  uint8          `cbor:"1,keyasint"`
	CorrID   string         `cbor:"2,keyasint"`
	From     objects.Node   `cbor:"3,keyasint"`
	Request  *task.Request  `cbor:"4,keyasint,omitempty"`
	Response *task.Response `cbor:"5,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("mp: cbor enc mode: %v", err))
	}
	encMode = em
}

func Marshal(m Message) ([]byte, error) {
	return encMode.Marshal(m)
}

func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("mp: unmarshal message: %w", err)
	}
	if m.Version != WireVersion {
		return Message{}, fmt.Errorf("mp: wire version %d, want %d", m.Version, WireVersion)
	}
	return m, nil
}
