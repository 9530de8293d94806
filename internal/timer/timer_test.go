package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedCounter struct {
	ticks  uint64
	resets int
}

func (c *fixedCounter) Reset()        { c.resets++ }
func (c *fixedCounter) Ticks() uint64 { return c.ticks }

func TestRead(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cfg   Config
		ticks uint64
		want  uint64
	}{
		{"below least valid", Config{LeastValid: 10, Overhead: 2}, 9, 0},
		{"at least valid", Config{LeastValid: 10, Overhead: 2}, 10, 8},
		{"overhead exceeds raw", Config{LeastValid: 1, Overhead: 50}, 20, 0},
		{"defaults", DefaultConfig(), 0, 0},
		{"defaults pass through", DefaultConfig(), 1234, 1234},
		{"tick scaling", Config{LeastValid: 1, Overhead: 100, TickNanos: 8}, 50, 300},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &fixedCounter{ticks: tt.ticks}
			tm := New(c, tt.cfg)
			tm.Initialize()
			assert.Equal(t, 1, c.resets)
			assert.Equal(t, tt.want, tm.Read())
		})
	}
}

func TestFindAverageOverheadReturnsRaw(t *testing.T) {
	t.Parallel()
	c := &fixedCounter{ticks: 5}
	tm := New(c, Config{LeastValid: 10, Overhead: 3})
	tm.SetFindAverageOverhead(true)
	assert.Equal(t, uint64(5), tm.Read())
	tm.SetFindAverageOverhead(false)
	assert.Equal(t, uint64(0), tm.Read())
}

func TestMonotonicAdvances(t *testing.T) {
	t.Parallel()
	m := NewMonotonic()
	m.Reset()
	time.Sleep(2 * time.Millisecond)
	first := m.Ticks()
	assert.GreaterOrEqual(t, first, uint64(2*time.Millisecond))
	m.Reset()
	assert.Less(t, m.Ticks(), first)
}
