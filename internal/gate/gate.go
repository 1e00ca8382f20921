package gate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/history"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// pairingDebounceWindow suppresses repeat pairing replies to the same
// sender while a request is in flight.
const pairingDebounceWindow = 60 * time.Second

// NameResolver looks up a display name for a platform user id. A failed
// or missing lookup yields "".
type NameResolver interface {
	ResolveUserName(ctx context.Context, accountID, userID string) string
}

// Notifier delivers a plain-text service message, used for pairing
// instructions. It is the only reply the gate ever sends on its own.
type Notifier interface {
	SendText(ctx context.Context, accountID, conversationID, text string) error
}

// Verdict is the gate's ruling on one turn.
type Verdict struct {
	Allowed           bool
	Reason            string // populated when the turn is dropped
	CommandAuthorized bool
	WasMentioned      bool // explicit mention or pattern match
}

// Gate runs the sequential policy stages over flushed turns. It is
// stateless apart from the pairing-reply debounce map.
type Gate struct {
	cfg     *config.Config
	pairing store.PairingStore
	pending *history.PendingHistory
	names   NameResolver
	notify  Notifier

	pairingDebounce sync.Map // accountID|senderID -> time.Time
	now             func() time.Time
}

func New(cfg *config.Config, pairing store.PairingStore, pending *history.PendingHistory, names NameResolver, notify Notifier) *Gate {
	return &Gate{
		cfg:     cfg,
		pairing: pairing,
		pending: pending,
		names:   names,
		notify:  notify,
		now:     time.Now,
	}
}

// Evaluate applies the policy stages in order: DM policy, group policy,
// per-group user allowlist, command authorization, mention requirement.
// Command authorization runs before the mention check so an authorized
// command can bypass it. historyKey is where a mention-gated turn is
// recorded before being dropped.
func (g *Gate) Evaluate(ctx context.Context, turn bus.Turn, historyKey string) Verdict {
	acct := g.cfg.ResolveAccount(turn.AccountID)
	if !acct.Enabled {
		return g.drop(turn, "account disabled or unknown")
	}

	// Display name is needed for name-based allowlist matches and for
	// pending-history attribution. A failed lookup degrades to "".
	senderName := ""
	if g.names != nil {
		senderName = g.names.ResolveUserName(ctx, turn.AccountID, turn.SenderID)
	}

	isGroup := turn.ConversationKind == "group"

	var gs config.GroupSettings
	if isGroup {
		gs = g.cfg.ResolveGroup(turn.AccountID, turn.ConversationID)
	}

	if !isGroup {
		if v, ok := g.checkDMPolicy(ctx, turn, acct, senderName); !ok {
			return v
		}
	} else {
		if v, ok := g.checkGroupPolicy(turn, acct, gs, senderName); !ok {
			return v
		}
	}

	cmdAuthorized := false
	if turn.Command != "" && acct.CommandsEnabled() {
		if len(acct.AllowFrom) > 0 && Match(acct.AllowFrom, turn.SenderID, senderName).Allowed {
			cmdAuthorized = true
		}
		if !cmdAuthorized && isGroup && len(gs.AllowFrom) > 0 && Match(gs.AllowFrom, turn.SenderID, senderName).Allowed {
			cmdAuthorized = true
		}
		if isGroup && !cmdAuthorized {
			return g.drop(turn, fmt.Sprintf("unauthorized command %q", turn.Command))
		}
	}

	mentioned := turn.WasMentioned
	if isGroup {
		if !mentioned && matchesMentionPatterns(acct.MentionPatterns, turn.Body) {
			mentioned = true
		}
		if gs.RequireMention && !mentioned {
			if !(turn.Command != "" && cmdAuthorized) {
				// Keep the turn retrievable as context for a later
				// mentioning message.
				if g.pending != nil {
					g.pending.Record(historyKey, senderName, turn.Body)
				}
				return g.drop(turn, "mention required")
			}
		}
	}

	return Verdict{Allowed: true, CommandAuthorized: cmdAuthorized, WasMentioned: mentioned}
}

func (g *Gate) checkDMPolicy(ctx context.Context, turn bus.Turn, acct config.AccountConfig, senderName string) (Verdict, bool) {
	switch acct.DMPolicy {
	case config.DMPolicyDisabled:
		return g.drop(turn, "dm policy disabled"), false
	case config.DMPolicyOpen:
		return Verdict{}, true
	case config.DMPolicyPairing:
		if Match(acct.AllowFrom, turn.SenderID, senderName).Allowed {
			return Verdict{}, true
		}
		if g.pairing != nil {
			paired, err := g.pairing.IsPaired(ctx, turn.AccountID, turn.SenderID)
			if err != nil {
				slog.Warn("pairing lookup failed", "account", turn.AccountID, "sender", turn.SenderID, "error", err)
			} else if paired {
				return Verdict{}, true
			}
		}
		g.sendPairingInstructions(ctx, turn, senderName)
		return g.drop(turn, "dm sender not paired"), false
	default:
		// Unknown policy values behave as a strict allowlist.
		if Match(acct.AllowFrom, turn.SenderID, senderName).Allowed {
			return Verdict{}, true
		}
		return g.drop(turn, fmt.Sprintf("dm sender not in allowlist %v", acct.AllowFrom)), false
	}
}

func (g *Gate) checkGroupPolicy(turn bus.Turn, acct config.AccountConfig, gs config.GroupSettings, senderName string) (Verdict, bool) {
	switch acct.GroupPolicy {
	case config.GroupPolicyDisabled:
		return g.drop(turn, "group policy disabled"), false
	case config.GroupPolicyAllowlist:
		if gs.Configured && !gs.Enabled {
			return g.drop(turn, "group explicitly disabled"), false
		}
		allowed := gs.Configured && gs.Enabled
		if !allowed {
			allowed = Match(acct.GroupAllowFrom, turn.ConversationID, "").Allowed
		}
		if !allowed {
			return g.drop(turn, fmt.Sprintf("group not in allowlist %v", acct.GroupAllowFrom)), false
		}
	default: // open
	}

	if len(gs.AllowFrom) > 0 && !Match(gs.AllowFrom, turn.SenderID, senderName).Allowed {
		return g.drop(turn, fmt.Sprintf("sender not in group allowlist %v", gs.AllowFrom)), false
	}
	return Verdict{}, true
}

// sendPairingInstructions creates (or reuses) a pairing request and sends
// the instructions once per unapproved request.
func (g *Gate) sendPairingInstructions(ctx context.Context, turn bus.Turn, senderName string) {
	if g.pairing == nil || g.notify == nil {
		return
	}

	debounceKey := turn.AccountID + "|" + turn.SenderID
	if last, ok := g.pairingDebounce.Load(debounceKey); ok {
		if g.now().Sub(last.(time.Time)) < pairingDebounceWindow {
			return
		}
	}

	code, created, err := g.pairing.UpsertRequest(ctx, turn.AccountID, turn.SenderID, store.PairingMeta{
		ConversationID: turn.ConversationID,
		DisplayName:    senderName,
	})
	if err != nil {
		slog.Warn("pairing request failed", "account", turn.AccountID, "sender", turn.SenderID, "error", err)
		return
	}
	if !created {
		// Instructions already went out for this request.
		return
	}

	text := fmt.Sprintf(
		"Access not configured.\n\nYour open_id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  larkpipe pairing approve %s",
		turn.SenderID, code, code,
	)
	if err := g.notify.SendText(ctx, turn.AccountID, turn.ConversationID, text); err != nil {
		slog.Warn("failed to send pairing reply", "account", turn.AccountID, "error", err)
		return
	}
	g.pairingDebounce.Store(debounceKey, g.now())
	slog.Info("pairing reply sent", "account", turn.AccountID, "sender", turn.SenderID, "code", code)
}

func (g *Gate) drop(turn bus.Turn, reason string) Verdict {
	slog.Debug("turn dropped by gate",
		"account", turn.AccountID,
		"conversation", turn.ConversationID,
		"sender", turn.SenderID,
		"reason", reason,
	)
	return Verdict{Reason: reason}
}

// matchesMentionPatterns checks the configured text fallbacks. Patterns
// are compiled as regular expressions; an invalid pattern never matches.
func matchesMentionPatterns(patterns []string, body string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Debug("invalid mention pattern", "pattern", p, "error", err)
			continue
		}
		if re.MatchString(body) {
			return true
		}
	}
	return false
}
