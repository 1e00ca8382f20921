// Package turn builds the canonical context handed to the response
// engine: resolved names, injected pending history, session routing.
package turn

import (
	"context"
	"log/slog"
	"sync"
)

// Lookup fetches display names from the platform directory. Implemented
// by the transport collaborator.
type Lookup interface {
	UserName(ctx context.Context, accountID, userID string) (string, error)
	GroupName(ctx context.Context, accountID, conversationID string) (string, error)
}

// CachedDirectory caches directory lookups for the process lifetime.
// Display names change rarely enough that no invalidation is needed.
type CachedDirectory struct {
	lookup Lookup
	users  sync.Map // accountID|userID -> string
	groups sync.Map // accountID|conversationID -> string
}

func NewCachedDirectory(lookup Lookup) *CachedDirectory {
	return &CachedDirectory{lookup: lookup}
}

// ResolveUserName returns the display name for a user id, or "" when the
// lookup fails or no lookup collaborator is wired.
func (d *CachedDirectory) ResolveUserName(ctx context.Context, accountID, userID string) string {
	if d == nil || d.lookup == nil || userID == "" {
		return ""
	}
	key := accountID + "|" + userID
	if name, ok := d.users.Load(key); ok {
		return name.(string)
	}
	name, err := d.lookup.UserName(ctx, accountID, userID)
	if err != nil {
		slog.Debug("user name lookup failed", "account", accountID, "user", userID, "error", err)
		return ""
	}
	if name != "" {
		d.users.Store(key, name)
	}
	return name
}

// ResolveGroupName returns the display name for a group conversation, or
// "" when unavailable.
func (d *CachedDirectory) ResolveGroupName(ctx context.Context, accountID, conversationID string) string {
	if d == nil || d.lookup == nil || conversationID == "" {
		return ""
	}
	key := accountID + "|" + conversationID
	if name, ok := d.groups.Load(key); ok {
		return name.(string)
	}
	name, err := d.lookup.GroupName(ctx, accountID, conversationID)
	if err != nil {
		slog.Debug("group name lookup failed", "account", accountID, "conversation", conversationID, "error", err)
		return ""
	}
	if name != "" {
		d.groups.Store(key, name)
	}
	return name
}
