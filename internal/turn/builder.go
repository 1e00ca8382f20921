package turn

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/gate"
	"github.com/nextlevelbuilder/larkpipe/internal/history"
	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// CanonicalContext is the payload handed to the response engine for one
// gated turn. Immutable once built.
type CanonicalContext struct {
	AccountID        string
	ConversationID   string
	ConversationKind string
	SenderID         string
	SenderName       string
	ConversationName string

	SessionKey string
	HistoryKey string
	Thread     sessions.ThreadContext

	Body       string // raw body with any injected transcript prefix
	RawBody    string
	MessageIDs []string

	WasMentioned      bool
	CommandAuthorized bool
	Command           string
}

// Builder assembles the CanonicalContext: display names, pending-history
// injection, and session bookkeeping.
type Builder struct {
	cfg      *config.Config
	dir      *CachedDirectory
	pending  *history.PendingHistory
	sessions store.SessionStore
}

func NewBuilder(cfg *config.Config, dir *CachedDirectory, pending *history.PendingHistory, sessionStore store.SessionStore) *Builder {
	return &Builder{cfg: cfg, dir: dir, pending: pending, sessions: sessionStore}
}

// Build constructs the context for a turn that passed the gate. Returns
// nil when no delivery target can be determined; the turn is then
// silently dropped. Session-store write failures are logged and do not
// block the turn.
func (b *Builder) Build(ctx context.Context, t bus.Turn, verdict gate.Verdict) *CanonicalContext {
	if t.ConversationID == "" || t.LastMessageID() == "" {
		slog.Debug("turn without delivery target dropped",
			"account", t.AccountID, "conversation", t.ConversationID)
		return nil
	}

	isGroup := t.ConversationKind == "group"
	thread := sessions.ResolveThread(t.RootID, t.ParentID, t.LastMessageID())

	scope := sessions.ScopePerSender
	if b.cfg.Sessions.Scope == string(sessions.ScopeGlobal) {
		scope = sessions.ScopeGlobal
	}
	sessionKey := sessions.BuildScopedSessionKey(
		t.AccountID, sessions.PeerKindFromGroup(isGroup), t.SenderID, t.ConversationID, thread, scope)
	historyKey := sessions.HistoryKey(sessionKey, t.ConversationID, thread)

	senderName := b.dir.ResolveUserName(ctx, t.AccountID, t.SenderID)
	conversationName := ""
	if isGroup {
		conversationName = b.dir.ResolveGroupName(ctx, t.AccountID, t.ConversationID)
	}

	body := t.Body
	if isGroup && b.pending != nil {
		gs := b.cfg.ResolveGroup(t.AccountID, t.ConversationID)
		if gs.HistoryLimit > 0 {
			if transcript := b.pending.BuildContext(historyKey, gs.HistoryLimit); transcript != "" {
				body = transcript + "\n" + t.Body
				b.pending.Clear(historyKey)
			}
		}
	}

	if b.sessions != nil {
		rec := sessions.TurnRecord{
			Role:      "user",
			Content:   t.Body,
			SenderID:  t.SenderID,
			MessageID: t.LastMessageID(),
			At:        t.FlushedAt,
		}
		if err := b.sessions.RecordTurn(ctx, sessionKey, rec); err != nil {
			slog.Warn("session turn write failed", "session", sessionKey, "error", err)
		}
		// Last-route metadata only matters for DMs, where the reply
		// target is the peer rather than a fixed group.
		if !isGroup {
			if err := b.sessions.SetLastRoute(ctx, sessionKey, t.AccountID, t.ConversationID); err != nil {
				slog.Warn("session route write failed", "session", sessionKey, "error", err)
			}
		}
	}

	return &CanonicalContext{
		AccountID:         t.AccountID,
		ConversationID:    t.ConversationID,
		ConversationKind:  t.ConversationKind,
		SenderID:          t.SenderID,
		SenderName:        senderName,
		ConversationName:  conversationName,
		SessionKey:        sessionKey,
		HistoryKey:        historyKey,
		Thread:            thread,
		Body:              body,
		RawBody:           t.Body,
		MessageIDs:        append([]string(nil), t.MessageIDs...),
		WasMentioned:      verdict.WasMentioned,
		CommandAuthorized: verdict.CommandAuthorized,
		Command:           t.Command,
	}
}
