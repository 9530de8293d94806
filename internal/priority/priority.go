// Package priority maps between the application priority space and the
// scheduler's core priority space.
//
// Both spaces share one numeric range here, so translation is the identity.
// It is still a separate step: every caller-supplied value is validated
// with IsValid first, and nothing in this package clamps.
package priority

import "fmt"

// API is a priority as seen by directive callers. Lower is more urgent.
type API uint32

// Core is a priority as seen by the scheduler.
type Core uint32

// Current is accepted by set-priority to query without changing.
const Current API = 0

const (
	DefaultMin API = 1
	DefaultMax API = 255
)

type Translator struct {
	Min API // highest urgency
	Max API // lowest urgency
}

func Default() Translator { return Translator{Min: DefaultMin, Max: DefaultMax} }

// New returns a translator for [min, max]. min must be at least 1 because 0
// is reserved for Current.
func New(min, max API) (Translator, error) {
	if min == Current {
		return Translator{}, fmt.Errorf("priority: minimum must be > %d", Current)
	}
	if min > max {
		return Translator{}, fmt.Errorf("priority: minimum %d above maximum %d", min, max)
	}
	return Translator{Min: min, Max: max}, nil
}

func (t Translator) IsValid(p API) bool { return p >= t.Min && p <= t.Max }

func (Translator) ToCore(p API) Core { return Core(p) }

func (Translator) FromCore(p Core) API { return API(p) }
