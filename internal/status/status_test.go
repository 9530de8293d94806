package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeRoundTrip(t *testing.T) {
	t.Parallel()
	for c := Successful; c <= Unsatisfied; c++ {
		if got := FromError(c.Err()); got != c {
			t.Fatalf("FromError(%s.Err()) = %s", c, got)
		}
	}
}

func TestFromErrorWrapped(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("start 0x10001: %w", ErrInvalidState)
	if got := FromError(err); got != InvalidState {
		t.Fatalf("FromError = %s, want %s", got, InvalidState)
	}
	if got := FromError(errors.New("boom")); got != Unsatisfied {
		t.Fatalf("FromError(foreign) = %s, want %s", got, Unsatisfied)
	}
}

func TestUnknownCodeIsNotSuccess(t *testing.T) {
	t.Parallel()
	err := Code(200).Err()
	if !errors.Is(err, ErrUnsatisfied) {
		t.Fatalf("unknown code err = %v, want ErrUnsatisfied", err)
	}
}
