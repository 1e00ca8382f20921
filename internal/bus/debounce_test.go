package bus

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTimers collects scheduled timer callbacks so tests can fire the
// quiet-period expiry deterministically.
type fakeTimers struct {
	mu      sync.Mutex
	pending []func()
}

func (f *fakeTimers) factory(_ time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.pending)
	f.pending = append(f.pending, fn)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending[idx] == nil {
			return false
		}
		f.pending[idx] = nil
		return true
	}
}

// fireAll runs every timer callback that has not been stopped.
func (f *fakeTimers) fireAll() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.pending))
	for i, fn := range f.pending {
		if fn != nil {
			fns = append(fns, fn)
			f.pending[i] = nil
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func event(chat, msg, sender, body string) InboundEvent {
	return InboundEvent{
		AccountID:        "acct",
		ConversationID:   chat,
		MessageID:        msg,
		SenderID:         sender,
		ConversationKind: "group",
		BodyRaw:          body,
	}
}

// TestDebouncer_MergesBurst verifies that three rapid messages from the same
// sender in the same conversation become exactly one turn whose body is the
// newline-joined concatenation in arrival order.
func TestDebouncer_MergesBurst(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	}, WithTimerFactory(timers.factory))

	d.Enqueue(event("chat1", "m1", "alice", "first"))
	d.Enqueue(event("chat1", "m2", "alice", "second"))
	d.Enqueue(event("chat1", "m3", "alice", "third"))

	if len(turns) != 0 {
		t.Fatalf("flushed %d turns before quiet period expired", len(turns))
	}
	timers.fireAll()

	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if want := "first\nsecond\nthird"; turns[0].Body != want {
		t.Errorf("merged body = %q, want %q", turns[0].Body, want)
	}
	if got := strings.Join(turns[0].MessageIDs, ","); got != "m1,m2,m3" {
		t.Errorf("message ids = %q, want %q", got, "m1,m2,m3")
	}
}

// TestDebouncer_SingleEventPassthrough verifies a lone event flushes with
// its original body unchanged.
func TestDebouncer_SingleEventPassthrough(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	}, WithTimerFactory(timers.factory))

	d.Enqueue(event("chat1", "m1", "alice", "hello there"))
	timers.fireAll()

	if len(turns) != 1 || turns[0].Body != "hello there" {
		t.Fatalf("got %+v, want single turn with original body", turns)
	}
}

// TestDebouncer_BucketIsolation verifies that different senders and
// different conversations never share a bucket.
func TestDebouncer_BucketIsolation(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	}, WithTimerFactory(timers.factory))

	d.Enqueue(event("chat1", "m1", "alice", "a"))
	d.Enqueue(event("chat1", "m2", "bob", "b"))
	d.Enqueue(event("chat2", "m3", "alice", "c"))
	timers.fireAll()

	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3 (one per sender+conversation)", len(turns))
	}
	for _, turn := range turns {
		if strings.Contains(turn.Body, "\n") {
			t.Errorf("turn %+v merged across buckets", turn)
		}
	}
}

// TestDebouncer_ThreadScopedBuckets verifies that replies in different
// threads of the same chat debounce independently.
func TestDebouncer_ThreadScopedBuckets(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	}, WithTimerFactory(timers.factory))

	ev1 := event("chat1", "m1", "alice", "thread one")
	ev1.RootID = "r1"
	ev2 := event("chat1", "m2", "alice", "thread two")
	ev2.RootID = "r2"
	d.Enqueue(ev1)
	d.Enqueue(ev2)
	timers.fireAll()

	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
}

// TestDebouncer_CommandFlushesImmediately verifies that a control command
// flushes the bucket at once, carrying previously queued items with it.
func TestDebouncer_CommandFlushesImmediately(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	},
		WithTimerFactory(timers.factory),
		WithCommandDetector(func(body string) string {
			if strings.HasPrefix(body, "/stop") {
				return "stop"
			}
			return ""
		}))

	d.Enqueue(event("chat1", "m1", "alice", "please"))
	d.Enqueue(event("chat1", "m2", "alice", "/stop"))

	if len(turns) != 1 {
		t.Fatalf("command did not flush immediately, got %d turns", len(turns))
	}
	if turns[0].Command != "stop" {
		t.Errorf("Command = %q, want %q", turns[0].Command, "stop")
	}
	if want := "please\n/stop"; turns[0].Body != want {
		t.Errorf("merged body = %q, want %q", turns[0].Body, want)
	}
	// The bucket is gone; a later timer fire must not double-flush.
	timers.fireAll()
	if len(turns) != 1 {
		t.Errorf("stale timer produced a second flush, got %d turns", len(turns))
	}
}

// TestDebouncer_LastEventMetadata verifies the merged turn carries the
// thread metadata of the last member and OR-ed mention state.
func TestDebouncer_LastEventMetadata(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	},
		WithTimerFactory(timers.factory),
		WithMentionDetector(func(ev InboundEvent) bool {
			for _, m := range ev.Mentions {
				if m.ID == "ou_bot" {
					return true
				}
			}
			return false
		}))

	ev1 := event("chat1", "m1", "alice", "first")
	ev1.Mentions = []Mention{{ID: "ou_bot"}}
	ev2 := event("chat1", "m2", "alice", "second")
	ev2.ParentID = "p1"
	d.Enqueue(ev1)
	d.Enqueue(ev2)
	timers.fireAll()

	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].ParentID != "p1" {
		t.Errorf("ParentID = %q, want last event's %q", turns[0].ParentID, "p1")
	}
	if !turns[0].WasMentioned {
		t.Error("WasMentioned = false although the first member mentioned the bot")
	}
	if len(turns[0].Mentions) != 0 {
		t.Errorf("Mentions = %v, want last event's (empty)", turns[0].Mentions)
	}
}

// TestDebouncer_StopFlushesPending verifies shutdown flushes all queued
// buckets deterministically and rejects later enqueues.
func TestDebouncer_StopFlushesPending(t *testing.T) {
	timers := &fakeTimers{}
	var turns []Turn
	d := NewInboundDebouncer(time.Second, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	}, WithTimerFactory(timers.factory))

	d.Enqueue(event("chat1", "m1", "alice", "a"))
	d.Enqueue(event("chat2", "m2", "bob", "b"))
	d.Stop()

	if len(turns) != 2 {
		t.Fatalf("Stop flushed %d turns, want 2", len(turns))
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after Stop, want 0", d.Pending())
	}

	d.Enqueue(event("chat3", "m3", "carol", "c"))
	timers.fireAll()
	if len(turns) != 2 {
		t.Error("enqueue after Stop produced a turn")
	}
}

// TestDebouncer_StopWaitsForTimerFlush verifies Stop blocks until a timer
// callback that already drained its bucket has finished delivering, so
// callers may tear down the flush target the moment Stop returns.
func TestDebouncer_StopWaitsForTimerFlush(t *testing.T) {
	var fired func()
	release := make(chan struct{})
	started := make(chan struct{})
	factory := func(_ time.Duration, fn func()) func() bool {
		fired = fn
		// The callback is already running from the debouncer's view.
		return func() bool { return false }
	}

	d := NewInboundDebouncer(time.Second, func(Turn) error {
		close(started)
		<-release
		return nil
	}, WithTimerFactory(factory))

	d.Enqueue(event("chat1", "m1", "alice", "a"))
	go fired()
	<-started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a timer flush was still delivering")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the timer flush finished")
	}
}

// TestDebouncer_ZeroWindowPassthrough verifies that a non-positive window
// disables debouncing entirely.
func TestDebouncer_ZeroWindowPassthrough(t *testing.T) {
	var turns []Turn
	d := NewInboundDebouncer(0, func(turn Turn) error {
		turns = append(turns, turn)
		return nil
	})

	d.Enqueue(event("chat1", "m1", "alice", "a"))
	d.Enqueue(event("chat1", "m2", "alice", "b"))

	if len(turns) != 2 {
		t.Fatalf("got %d turns with debounce disabled, want 2", len(turns))
	}
}
