package dates

import (
	"testing"

	"daters/cmd/identity"
)

func TestStatusValid(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusSuggested, StatusApproved, StatusRejected} {
		if !s.Valid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []Status{"", "maybe", "Approved"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}

func TestDateCountFloorsAtZero(t *testing.T) {
	t.Parallel()
	var d Date
	d.Decrement()
	if d.Count != 0 {
		t.Fatalf("count = %d, want 0", d.Count)
	}
	d.Increment()
	d.Increment()
	d.Decrement()
	if d.Count != 1 {
		t.Fatalf("count = %d, want 1", d.Count)
	}
}

func TestPatchApplyStatus(t *testing.T) {
	t.Parallel()
	d := Date{Description: Description{Status: StatusSuggested}}

	rejected := StatusRejected
	if err := (Patch{Status: &rejected}).apply(&d); err != nil || d.Description.Status != StatusRejected {
		t.Fatalf("reject: %v %s", err, d.Description.Status)
	}

	bad := Status("maybe")
	if err := (Patch{Status: &bad}).apply(&d); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if d.Description.Status != StatusRejected {
		t.Fatalf("rejected patch must not change status, got %s", d.Description.Status)
	}
}
