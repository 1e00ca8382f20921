// Package gate evaluates access policy for flushed turns: DM policy,
// group policy, per-group user allowlists, command authorization and
// mention gating.
package gate

import "strings"

// Decision is the outcome of matching a sender against an allowlist.
type Decision struct {
	Allowed     bool
	MatchSource string // the entry that matched, "*" for wildcard
}

// Match checks a sender id and display name against allowlist entries.
// Entries may be literal ids, literal names (optionally prefixed with
// "@") or the wildcard "*". Matching is case-insensitive. An empty
// allowlist never matches; callers decide what that means for their
// policy stage.
func Match(allowlist []string, senderID, senderName string) Decision {
	id := strings.ToLower(strings.TrimSpace(senderID))
	name := strings.ToLower(strings.TrimSpace(senderName))

	for _, raw := range allowlist {
		entry := strings.ToLower(strings.TrimSpace(raw))
		if entry == "" {
			continue
		}
		if entry == "*" {
			return Decision{Allowed: true, MatchSource: "*"}
		}
		trimmed := strings.TrimPrefix(entry, "@")
		if (id != "" && trimmed == id) || (name != "" && trimmed == name) {
			return Decision{Allowed: true, MatchSource: raw}
		}
	}
	return Decision{}
}
