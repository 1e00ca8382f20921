package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives a merged turn when a bucket flushes. An error is
// logged and the turn dropped; flushes are never retried because response
// generation is not assumed idempotent.
type FlushFunc func(Turn) error

// CommandFunc extracts a recognized control command from an event body,
// returning "" when none is present.
type CommandFunc func(body string) string

// MentionFunc reports whether an event explicitly mentions the bot.
type MentionFunc func(ev InboundEvent) bool

type stopTimer func() bool

type timerFactory func(d time.Duration, fn func()) stopTimer

// InboundDebouncer groups rapid events from one sender in one
// conversation/thread into a single merged turn. A bucket flushes after a
// quiet period with no new arrivals, or immediately when any queued or
// incoming event carries a control command. Buckets for different keys are
// fully independent; enqueues to the same key are serialized.
type InboundDebouncer struct {
	window   time.Duration
	flush    FlushFunc
	command  CommandFunc
	mention  MentionFunc
	newTimer timerFactory
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	buckets map[string]*debounceBucket
	stopped bool

	// flushes counts timer callbacks that may still deliver a turn. Stop
	// waits on it so no delivery races a caller tearing down the flush target.
	flushes sync.WaitGroup
}

type debounceBucket struct {
	key    string
	events []InboundEvent
	cancel stopTimer
	gen    uint64
}

// DebouncerOption customizes an InboundDebouncer.
type DebouncerOption func(*InboundDebouncer)

// WithTimerFactory replaces the wall-clock timer, letting tests drive
// flushes without sleeping.
func WithTimerFactory(f func(d time.Duration, fn func()) func() bool) DebouncerOption {
	return func(d *InboundDebouncer) {
		d.newTimer = func(dur time.Duration, fn func()) stopTimer { return f(dur, fn) }
	}
}

// WithCommandDetector sets the control-command extractor.
func WithCommandDetector(f CommandFunc) DebouncerOption {
	return func(d *InboundDebouncer) { d.command = f }
}

// WithMentionDetector sets the bot-mention detector used when computing the
// merged turn's WasMentioned flag. Without one no event counts as a bot
// mention; the detector must match the bot's own platform identity, not
// just any structured mention.
func WithMentionDetector(f MentionFunc) DebouncerOption {
	return func(d *InboundDebouncer) { d.mention = f }
}

// WithDebounceLogger sets the logger used for flush failures.
func WithDebounceLogger(l *slog.Logger) DebouncerOption {
	return func(d *InboundDebouncer) { d.log = l }
}

// NewInboundDebouncer creates a debouncer with the given quiet-period
// window. window <= 0 disables debouncing: every event flushes as its own
// turn on enqueue.
func NewInboundDebouncer(window time.Duration, flush FlushFunc, opts ...DebouncerOption) *InboundDebouncer {
	d := &InboundDebouncer{
		window:  window,
		flush:   flush,
		command: func(string) string { return "" },
		mention: func(InboundEvent) bool { return false },
		newTimer: func(dur time.Duration, fn func()) stopTimer {
			return time.AfterFunc(dur, fn).Stop
		},
		now:     time.Now,
		log:     slog.Default(),
		buckets: make(map[string]*debounceBucket),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BucketKey returns the debounce grouping key for an event. Thread replies
// group by thread so parallel threads in one chat debounce independently.
func BucketKey(ev InboundEvent) string {
	scope := ev.ConversationID
	if ev.RootID != "" {
		scope = ev.RootID
	}
	return fmt.Sprintf("%s|%s|%s", ev.AccountID, scope, ev.SenderID)
}

// Enqueue adds an event to its bucket. Returns after the event is queued or
// flushed; the flush callback runs on the calling goroutine for immediate
// flushes and on the timer goroutine otherwise.
func (d *InboundDebouncer) Enqueue(ev InboundEvent) {
	cmd := d.command(ev.BodyRaw)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	key := BucketKey(ev)
	b := d.buckets[key]
	if b == nil {
		b = &debounceBucket{key: key}
		d.buckets[key] = b
	}
	b.events = append(b.events, ev)

	if cmd != "" || d.window <= 0 {
		d.cancelLocked(b)
		turn := d.takeLocked(b, cmd)
		d.mu.Unlock()
		d.deliver(turn)
		return
	}

	// Restart the quiet-period timer. The bucket and generation guards
	// discard a fire from a timer that lost the race with its own Stop.
	d.cancelLocked(b)
	b.gen++
	gen := b.gen
	d.flushes.Add(1)
	b.cancel = d.newTimer(d.window, func() {
		defer d.flushes.Done()
		d.flushExpired(key, b, gen)
	})
	d.mu.Unlock()
}

// cancelLocked stops a bucket's pending timer if any. A timer whose
// callback already started keeps its own WaitGroup slot and releases it
// when the callback returns. Caller holds d.mu.
func (d *InboundDebouncer) cancelLocked(b *debounceBucket) {
	if b.cancel == nil {
		return
	}
	if b.cancel() {
		d.flushes.Done()
	}
	b.cancel = nil
}

// Stop flushes all pending buckets and rejects further enqueues. It
// returns only after every in-flight timer flush has delivered, so the
// flush target may be torn down as soon as Stop returns. Safe to call once.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	var turns []Turn
	for _, b := range d.buckets {
		d.cancelLocked(b)
		turns = append(turns, d.takeLocked(b, ""))
	}
	d.mu.Unlock()

	for _, t := range turns {
		d.deliver(t)
	}
	d.flushes.Wait()
}

// Pending returns the number of buckets with queued events.
func (d *InboundDebouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets)
}

func (d *InboundDebouncer) flushExpired(key string, owner *debounceBucket, gen uint64) {
	d.mu.Lock()
	b := d.buckets[key]
	if b == nil || b != owner || b.gen != gen {
		d.mu.Unlock()
		return
	}
	turn := d.takeLocked(b, "")
	d.mu.Unlock()
	d.deliver(turn)
}

// takeLocked drains a bucket into a merged turn and removes it from the
// registry. Caller holds d.mu.
func (d *InboundDebouncer) takeLocked(b *debounceBucket, cmd string) Turn {
	events := b.events
	b.events = nil
	delete(d.buckets, b.key)
	return d.merge(events, cmd)
}

// merge combines queued events into one turn: bodies joined by newline in
// arrival order, mention flag OR-ed across members, thread and mention
// metadata taken from the last member.
func (d *InboundDebouncer) merge(events []InboundEvent, cmd string) Turn {
	last := events[len(events)-1]
	turn := Turn{
		AccountID:        last.AccountID,
		ConversationID:   last.ConversationID,
		ConversationKind: last.ConversationKind,
		SenderID:         last.SenderID,
		SenderKind:       last.SenderKind,
		RootID:           last.RootID,
		ParentID:         last.ParentID,
		Mentions:         last.Mentions,
		Command:          cmd,
		FlushedAt:        d.now(),
	}
	bodies := make([]string, 0, len(events))
	for _, ev := range events {
		bodies = append(bodies, ev.BodyRaw)
		turn.MessageIDs = append(turn.MessageIDs, ev.MessageID)
		if d.mention(ev) {
			turn.WasMentioned = true
		}
	}
	turn.Body = strings.Join(bodies, "\n")
	if turn.Command == "" {
		for _, ev := range events {
			if c := d.command(ev.BodyRaw); c != "" {
				turn.Command = c
				break
			}
		}
	}
	return turn
}

func (d *InboundDebouncer) deliver(turn Turn) {
	if err := d.flush(turn); err != nil {
		d.log.Error("debounce flush failed, turn dropped",
			"conversation_id", turn.ConversationID,
			"sender_id", turn.SenderID,
			"messages", len(turn.MessageIDs),
			"error", err)
	}
}
