// Package history keeps bounded per-conversation pending messages: group
// messages that failed the mention gate are recorded here so a later
// mentioning message can carry them as context.
package history

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultLimit is the per-key entry cap when the account config does not
// set one.
const DefaultLimit = 50

// Entry is one recorded pending message.
type Entry struct {
	SenderName string
	Content    string
	At         time.Time
}

// PendingHistory is a bounded, in-memory ring of pending entries per
// history key. Oldest entries are evicted first.
type PendingHistory struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]Entry
}

// New creates a PendingHistory. limit <= 0 uses DefaultLimit.
func New(limit int) *PendingHistory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PendingHistory{
		limit:   limit,
		entries: make(map[string][]Entry),
	}
}

// Record appends an entry under the history key, evicting the oldest when
// over the cap.
func (h *PendingHistory) Record(key, senderName, content string) {
	if key == "" || content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.entries[key], Entry{SenderName: senderName, Content: content, At: time.Now()})
	if len(list) > h.limit {
		list = list[len(list)-h.limit:]
	}
	h.entries[key] = list
}

// BuildContext formats up to limit pending entries as a transcript prefix,
// oldest first. Returns "" when nothing is pending. limit <= 0 means all.
func (h *PendingHistory) BuildContext(key string, limit int) string {
	h.mu.Lock()
	list := h.entries[key]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	entries := make([]Entry, len(list))
	copy(entries, list)
	h.mu.Unlock()

	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[Recent messages in this conversation]\n")
	for _, e := range entries {
		name := e.SenderName
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", name, e.Content)
	}
	return b.String()
}

// Clear drops all pending entries for a key. Called after the entries were
// injected into a delivered turn.
func (h *PendingHistory) Clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, key)
}

// Len returns the number of pending entries for a key.
func (h *PendingHistory) Len(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries[key])
}
