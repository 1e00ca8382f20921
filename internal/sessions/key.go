// Package sessions handles thread resolution and session key derivation.
//
// Session keys follow a canonical format:
//
//	account:{accountId}:{rest}
//
// Where {rest} depends on the conversation kind:
//
//	DM:           direct:{peerId}
//	Group:        group:{conversationId}
//	Thread reply: group:{conversationId}:topic:{threadId}
//
// Examples:
//
//	account:default:direct:ou_7f9e2a
//	account:default:group:oc_a41bc2
//	account:default:group:oc_a41bc2:topic:om_55fe01
//
// Keys are pure functions of their inputs so identical events route to the
// same session across process restarts.
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// Scope selects how sessions are partitioned across senders.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopePerSender Scope = "per-sender"
)

// BuildSessionKey builds the canonical session key for a conversation.
//
//	DM:    account:{accountId}:direct:{peerID}
//	Group: account:{accountId}:group:{conversationID}
func BuildSessionKey(accountID string, kind PeerKind, conversationID string) string {
	return fmt.Sprintf("account:%s:%s:%s", accountID, kind, conversationID)
}

// BuildThreadSessionKey builds the session key for a reply inside a thread.
//
//	account:{accountId}:group:{conversationID}:topic:{threadID}
func BuildThreadSessionKey(accountID, conversationID, threadID string) string {
	return fmt.Sprintf("account:%s:group:%s:topic:%s", accountID, conversationID, threadID)
}

// BuildScopedSessionKey derives the routing key for a turn.
//
// scope:
//   - "global"     → "global" (one session for everything)
//   - "per-sender" → key depends on kind and thread linkage (default)
//
// For direct conversations the peer id keys the session. For groups the
// conversation id does, with a topic suffix when the turn is a thread reply
// so each thread holds its own session.
func BuildScopedSessionKey(accountID string, kind PeerKind, senderID, conversationID string, thread ThreadContext, scope Scope) string {
	if scope == ScopeGlobal {
		return "global"
	}
	if kind == PeerDirect {
		return BuildSessionKey(accountID, PeerDirect, senderID)
	}
	if thread.IsThreadReply {
		return BuildThreadSessionKey(accountID, conversationID, thread.ThreadID)
	}
	return BuildSessionKey(accountID, PeerGroup, conversationID)
}

// HistoryKey returns the key under which pending history is stored. Thread
// replies keep history private to the thread (the session key); top-level
// messages share history chat-wide (the bare conversation id).
func HistoryKey(sessionKey, conversationID string, thread ThreadContext) string {
	if thread.IsThreadReply {
		return sessionKey
	}
	return conversationID
}

// ParseSessionKey extracts the accountID and rest from a canonical session
// key. Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (accountID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "account" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsThreadSession checks if a session key carries a topic suffix.
func IsThreadSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.Contains(rest, ":topic:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
