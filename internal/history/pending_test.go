package history

import (
	"strings"
	"testing"
)

// TestPendingHistory_RecordAndBuild verifies entries come back oldest first
// inside the transcript prefix.
func TestPendingHistory_RecordAndBuild(t *testing.T) {
	h := New(10)
	h.Record("chat1", "alice", "first message")
	h.Record("chat1", "bob", "second message")

	got := h.BuildContext("chat1", 0)
	if !strings.Contains(got, "alice: first message") {
		t.Errorf("missing first entry in %q", got)
	}
	if !strings.Contains(got, "bob: second message") {
		t.Errorf("missing second entry in %q", got)
	}
	if strings.Index(got, "first message") > strings.Index(got, "second message") {
		t.Error("entries not in arrival order")
	}
}

// TestPendingHistory_Empty verifies an unknown key yields no prefix.
func TestPendingHistory_Empty(t *testing.T) {
	h := New(10)
	if got := h.BuildContext("nothing", 0); got != "" {
		t.Errorf("BuildContext on empty key = %q, want empty", got)
	}
}

// TestPendingHistory_Bounded verifies oldest entries are evicted at the cap.
func TestPendingHistory_Bounded(t *testing.T) {
	h := New(2)
	h.Record("chat1", "a", "one")
	h.Record("chat1", "a", "two")
	h.Record("chat1", "a", "three")

	if h.Len("chat1") != 2 {
		t.Fatalf("Len = %d, want 2", h.Len("chat1"))
	}
	got := h.BuildContext("chat1", 0)
	if strings.Contains(got, "one") {
		t.Errorf("evicted entry still present: %q", got)
	}
	if !strings.Contains(got, "three") {
		t.Errorf("newest entry missing: %q", got)
	}
}

// TestPendingHistory_BuildLimit verifies the per-call limit takes the most
// recent entries.
func TestPendingHistory_BuildLimit(t *testing.T) {
	h := New(10)
	h.Record("chat1", "a", "one")
	h.Record("chat1", "a", "two")
	h.Record("chat1", "a", "three")

	got := h.BuildContext("chat1", 2)
	if strings.Contains(got, "one") || !strings.Contains(got, "three") {
		t.Errorf("limit 2 returned wrong window: %q", got)
	}
}

// TestPendingHistory_Clear verifies Clear drops the key and keys are
// isolated from each other.
func TestPendingHistory_Clear(t *testing.T) {
	h := New(10)
	h.Record("chat1", "a", "kept elsewhere")
	h.Record("chat2", "b", "other chat")

	h.Clear("chat1")
	if h.Len("chat1") != 0 {
		t.Error("Clear left entries behind")
	}
	if h.Len("chat2") != 1 {
		t.Error("Clear leaked into another key")
	}
}
