// Package pipeline is the composition root: it owns the dedupe cache,
// debouncer, gate, context builder and dispatcher, and drives a turn
// from raw inbound event to delivered reply.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/dispatch"
	"github.com/nextlevelbuilder/larkpipe/internal/format"
	"github.com/nextlevelbuilder/larkpipe/internal/gate"
	"github.com/nextlevelbuilder/larkpipe/internal/history"
	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
	"github.com/nextlevelbuilder/larkpipe/internal/telemetry"
	"github.com/nextlevelbuilder/larkpipe/internal/turn"
)

const (
	defaultWorkers    = 8
	workerQueueSize   = 64
	defaultDebounceMs = 1000
)

// Engine generates the reply payloads for one canonical context. The
// returned channel is closed when the stream ends.
type Engine interface {
	Generate(ctx context.Context, cc *turn.CanonicalContext) (<-chan bus.ReplyPayload, error)
}

// Options wires the external collaborators into a Pipeline.
type Options struct {
	Config   *config.Config
	Stores   *store.Stores
	Engine   Engine
	Sender   dispatch.Sender
	Lookup   turn.Lookup
	Notifier gate.Notifier
	Workers  int
}

// Pipeline owns every stage instance. Events enter through
// HandleInboundEvent; replies leave through the Sender.
type Pipeline struct {
	cfg        *config.Config
	stores     *store.Stores
	engine     Engine
	dedupe     *bus.DedupeCache
	debouncer  *bus.InboundDebouncer
	gate       *gate.Gate
	builder    *turn.Builder
	dispatcher *dispatch.Dispatcher
	pending    *history.PendingHistory
	tracer     trace.Tracer

	workers []chan bus.Turn
	eg      *errgroup.Group
	cancel  context.CancelFunc
}

func New(opts Options) *Pipeline {
	cfg := opts.Config

	dedupeTTL := time.Duration(cfg.Pipeline.DedupeTTLSec) * time.Second
	if dedupeTTL <= 0 {
		dedupeTTL = 60 * time.Second
	}
	dedupeCap := cfg.Pipeline.DedupeCapacity
	if dedupeCap <= 0 {
		dedupeCap = 5000
	}

	window := time.Duration(cfg.Pipeline.DebounceMs) * time.Millisecond
	if cfg.Pipeline.DebounceMs == 0 {
		window = defaultDebounceMs * time.Millisecond
	} else if cfg.Pipeline.DebounceMs < 0 {
		window = 0
	}

	pending := history.New(0)
	dir := turn.NewCachedDirectory(opts.Lookup)

	var pairing store.PairingStore
	var sessionStore store.SessionStore
	if opts.Stores != nil {
		pairing = opts.Stores.Pairing
		sessionStore = opts.Stores.Sessions
	}

	p := &Pipeline{
		cfg:        cfg,
		stores:     opts.Stores,
		engine:     opts.Engine,
		dedupe:     bus.NewDedupeCache(dedupeTTL, dedupeCap),
		gate:       gate.New(cfg, pairing, pending, dir, opts.Notifier),
		builder:    turn.NewBuilder(cfg, dir, pending, sessionStore),
		dispatcher: dispatch.New(cfg, opts.Sender),
		pending:    pending,
		tracer:     telemetry.Tracer("larkpipe/pipeline"),
	}

	n := opts.Workers
	if n <= 0 {
		n = defaultWorkers
	}
	queue := cfg.Pipeline.QueueSize
	if queue <= 0 {
		queue = workerQueueSize
	}
	p.workers = make([]chan bus.Turn, n)
	for i := range p.workers {
		p.workers[i] = make(chan bus.Turn, queue)
	}

	p.debouncer = bus.NewInboundDebouncer(window, p.routeTurn,
		bus.WithCommandDetector(DetectCommand),
		bus.WithMentionDetector(p.isBotMention))
	return p
}

// isBotMention reports whether an event's structured mentions include the
// account's own bot identity. Mentions of other users never count; with no
// bot_open_id configured the text-pattern fallback in the gate is the only
// way a turn registers as mentioned.
func (p *Pipeline) isBotMention(ev bus.InboundEvent) bool {
	botID := p.cfg.ResolveAccount(ev.AccountID).BotOpenID
	if botID == "" {
		return false
	}
	for _, m := range ev.Mentions {
		if m.ID == botID {
			return true
		}
	}
	return false
}

// Start launches the turn workers. Must be called before events arrive.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.eg, _ = errgroup.WithContext(ctx)

	for _, ch := range p.workers {
		ch := ch
		p.eg.Go(func() error {
			for t := range ch {
				p.processTurn(ctx, t)
			}
			return nil
		})
	}
	slog.Info("pipeline started", "workers", len(p.workers))
}

// Shutdown flushes pending debounce buckets, drains the workers and
// stops. Deterministic: no timers are leaked.
func (p *Pipeline) Shutdown() {
	p.debouncer.Stop()
	for _, ch := range p.workers {
		close(ch)
	}
	if p.eg != nil {
		p.eg.Wait()
	}
	if p.cancel != nil {
		p.cancel()
	}
	slog.Info("pipeline stopped")
}

// HandleInboundEvent is the transport entry point. At most one turn is
// ever produced per (conversation id, message id).
func (p *Pipeline) HandleInboundEvent(ctx context.Context, ev bus.InboundEvent) {
	if ev.ConversationID == "" || ev.MessageID == "" || ev.SenderID == "" {
		slog.Debug("malformed event dropped",
			"account", ev.AccountID, "conversation", ev.ConversationID, "message", ev.MessageID)
		return
	}
	if ev.SenderKind == "bot" {
		slog.Debug("bot event dropped", "account", ev.AccountID, "sender", ev.SenderID)
		return
	}
	if p.dedupe.Seen(ev.ConversationID, ev.MessageID) {
		slog.Debug("duplicate event dropped",
			"conversation", ev.ConversationID, "message", ev.MessageID)
		return
	}
	p.debouncer.Enqueue(ev)
}

// routeTurn hands a flushed turn to the worker owning its conversation,
// so turns for one session stay in flush order.
func (p *Pipeline) routeTurn(t bus.Turn) error {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s", t.AccountID, t.ConversationID)
	p.workers[int(h.Sum32())%len(p.workers)] <- t
	return nil
}

func (p *Pipeline) processTurn(ctx context.Context, t bus.Turn) {
	ctx, span := p.tracer.Start(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("account.id", t.AccountID),
		attribute.String("conversation.id", t.ConversationID),
		attribute.String("conversation.kind", t.ConversationKind),
		attribute.Int("turn.messages", len(t.MessageIDs)),
	))
	defer span.End()

	thread := sessions.ResolveThread(t.RootID, t.ParentID, t.LastMessageID())
	scope := sessions.ScopePerSender
	if p.cfg.Sessions.Scope == string(sessions.ScopeGlobal) {
		scope = sessions.ScopeGlobal
	}
	isGroup := t.ConversationKind == "group"
	sessionKey := sessions.BuildScopedSessionKey(
		t.AccountID, sessions.PeerKindFromGroup(isGroup), t.SenderID, t.ConversationID, thread, scope)
	historyKey := sessions.HistoryKey(sessionKey, t.ConversationID, thread)

	slog.Debug("turn flushed",
		"session", sessionKey, "messages", len(t.MessageIDs),
		"body", format.Preview(t.Body, 80))

	verdict := p.gate.Evaluate(ctx, t, historyKey)
	if !verdict.Allowed {
		span.SetAttributes(attribute.String("drop.reason", verdict.Reason))
		return
	}

	cc := p.builder.Build(ctx, t, verdict)
	if cc == nil {
		span.SetAttributes(attribute.String("drop.reason", "no delivery target"))
		return
	}

	var payloads []bus.ReplyPayload
	if cc.Command != "" && cc.CommandAuthorized {
		payloads = p.runCommand(ctx, cc)
	} else {
		if p.engine == nil {
			slog.Debug("no engine wired, turn dropped", "session", cc.SessionKey)
			return
		}
		stream, err := p.engine.Generate(ctx, cc)
		if err != nil {
			slog.Error("engine failed", "session", cc.SessionKey, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine failed")
			return
		}
		for payload := range stream {
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		return
	}

	replyTo := cc.Thread.ReplyToID
	if replyTo == "" {
		replyTo = t.LastMessageID()
	}
	reply := bus.OutboundReply{
		AccountID:      cc.AccountID,
		ConversationID: cc.ConversationID,
		ReplyToID:      replyTo,
		SessionKey:     cc.SessionKey,
		Payloads:       payloads,
	}
	if err := p.dispatcher.Dispatch(ctx, reply); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return
	}

	p.recordReply(ctx, cc.SessionKey, payloads)
}

// recordReply appends the delivered text to the session history. Write
// failures are logged only.
func (p *Pipeline) recordReply(ctx context.Context, sessionKey string, payloads []bus.ReplyPayload) {
	if p.stores == nil || p.stores.Sessions == nil {
		return
	}
	var text string
	for _, payload := range payloads {
		if payload.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += payload.Text
	}
	if text == "" {
		return
	}
	rec := sessions.TurnRecord{Role: "assistant", Content: text, At: time.Now()}
	if err := p.stores.Sessions.RecordTurn(ctx, sessionKey, rec); err != nil {
		slog.Warn("assistant turn write failed", "session", sessionKey, "error", err)
	}
}
