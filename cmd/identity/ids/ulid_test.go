package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNew_SortsInCreationOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		got = append(got, New(now))
	}

	if !sort.StringsAreSorted(got) {
		t.Fatalf("expected monotonic ids within one millisecond")
	}
	for _, id := range got {
		if len(id) != 26 || !Valid(id) {
			t.Fatalf("invalid ulid %q", id)
		}
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if Valid("not-a-ulid") {
		t.Fatalf("expected invalid")
	}
	if !Valid(New(time.Time{})) {
		t.Fatalf("expected valid ulid for zero time")
	}
}
