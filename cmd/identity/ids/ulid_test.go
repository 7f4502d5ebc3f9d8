package ids

import (
	"testing"
	"time"
)

func TestNew_MonotonicWithinMillisecond(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := New(now)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if len(id) != 26 || !Valid(id) {
			t.Fatalf("invalid ulid %q", id)
		}
		if id <= prev {
			t.Fatalf("expected strictly increasing ids, %q after %q", id, prev)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "nope", "01ARZ3NDEKTSV4RRFFQ69G5FA", "01ARZ3NDEKTSV4RRFFQ69G5FAVX"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true", s)
		}
	}
	if !Valid("01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Fatalf("expected canonical ulid to be valid")
	}
}
