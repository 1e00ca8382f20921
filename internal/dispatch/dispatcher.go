// Package dispatch delivers formatted replies to the platform: ordered
// chunk sends with thread targeting, media follow-ups, and per
// conversation pacing.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/format"
)

// Message types understood by the send collaborator.
const (
	MsgTypeText = "text"
	MsgTypePost = "post"
)

// Sender is the external send collaborator. Content is the serialized
// platform payload for the message type.
type Sender interface {
	Send(ctx context.Context, accountID, conversationID, msgType, content string) error
	Reply(ctx context.Context, accountID, replyToID, msgType, content string) error
	SendMedia(ctx context.Context, accountID, conversationID string, media bus.MediaAttachment) error
}

// Dispatcher sequences delivery of one turn's payloads. Chunks within a
// turn go out strictly in order; different conversations may dispatch
// concurrently.
type Dispatcher struct {
	cfg    *config.Config
	sender Sender

	limiters sync.Map // conversationID -> *rate.Limiter
	replied  sync.Map // session key -> struct{}
}

func New(cfg *config.Config, sender Sender) *Dispatcher {
	return &Dispatcher{cfg: cfg, sender: sender}
}

// Dispatch sends all payloads of one reply. A send failure abandons the
// remaining chunks and payloads of this turn; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, reply bus.OutboundReply) error {
	acct := d.cfg.ResolveAccount(reply.AccountID)
	replyToMode := acct.ReplyToMode
	if gs := d.cfg.ResolveGroup(reply.AccountID, reply.ConversationID); gs.Configured && gs.ReplyToMode != "" {
		replyToMode = gs.ReplyToMode
	}

	replyTo := d.resolveReplyTarget(reply, replyToMode)

	delivered := false
	firstSend := true
	for _, payload := range reply.Payloads {
		if payload.IsSilent() {
			// Deliberate no-op; does not consume the thread slot.
			continue
		}

		if payload.Text != "" {
			chunks := format.ChunkText(payload.Text, acct.TextChunkLimit)
			for _, chunk := range chunks {
				msgType, content, err := renderChunk(chunk, acct.RenderMode)
				if err != nil {
					return fmt.Errorf("render chunk: %w", err)
				}
				if err := d.deliver(ctx, reply, replyTo, firstSend, msgType, content); err != nil {
					slog.Error("chunk send failed, abandoning turn",
						"account", reply.AccountID, "conversation", reply.ConversationID, "error", err)
					return err
				}
				firstSend = false
				delivered = true
			}
		}

		for i, media := range payload.Media {
			if i > 0 {
				// Caption accompanies the first media item only.
				media.Caption = ""
			}
			m, cleanup, err := prepareMedia(media, acct.MediaMaxMB)
			if err != nil {
				slog.Warn("media skipped", "path", media.Path, "error", err)
				continue
			}
			if err := d.wait(ctx, reply.ConversationID); err != nil {
				cleanup()
				return err
			}
			err = d.sender.SendMedia(ctx, reply.AccountID, reply.ConversationID, m)
			cleanup()
			if err != nil {
				slog.Error("media send failed, abandoning turn",
					"account", reply.AccountID, "conversation", reply.ConversationID, "error", err)
				return err
			}
			firstSend = false
			delivered = true
		}
	}

	if delivered && reply.SessionKey != "" {
		d.replied.Store(reply.SessionKey, struct{}{})
	}
	return nil
}

// HasReplied reports whether any payload was delivered for the session.
func (d *Dispatcher) HasReplied(sessionKey string) bool {
	_, ok := d.replied.Load(sessionKey)
	return ok
}

// resolveReplyTarget applies the reply-to mode to the turn's thread
// target. "all" always threads, "first" threads until the session has a
// reply, "off" never forces a thread.
func (d *Dispatcher) resolveReplyTarget(reply bus.OutboundReply, mode string) string {
	if reply.ReplyToID == "" {
		return ""
	}
	switch mode {
	case config.ReplyToAll:
		return reply.ReplyToID
	case config.ReplyToOff:
		return ""
	default: // "first"
		if d.HasReplied(reply.SessionKey) {
			return ""
		}
		return reply.ReplyToID
	}
}

func (d *Dispatcher) deliver(ctx context.Context, reply bus.OutboundReply, replyTo string, first bool, msgType, content string) error {
	if err := d.wait(ctx, reply.ConversationID); err != nil {
		return err
	}
	if first && replyTo != "" {
		return d.sender.Reply(ctx, reply.AccountID, replyTo, msgType, content)
	}
	return d.sender.Send(ctx, reply.AccountID, reply.ConversationID, msgType, content)
}

// wait paces sends per conversation using the configured per-minute
// budget. The full budget is available as burst so short replies are
// never delayed.
func (d *Dispatcher) wait(ctx context.Context, conversationID string) error {
	rpm := d.cfg.Pipeline.RateLimitRPM
	if rpm <= 0 {
		return nil
	}
	v, _ := d.limiters.LoadOrStore(conversationID,
		rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm))
	return v.(*rate.Limiter).Wait(ctx)
}

// renderChunk serializes one chunk for the platform. Mode "auto" picks
// rich content only when the text carries markdown constructs.
func renderChunk(chunk, mode string) (msgType, content string, err error) {
	rich := false
	switch mode {
	case "rich":
		rich = true
	case "plain":
	default: // auto
		rich = format.NeedsRichText(chunk)
	}
	if rich {
		content, err = format.PostJSON(format.BuildPost(chunk))
		return MsgTypePost, content, err
	}
	content, err = format.PlainTextJSON(chunk)
	return MsgTypeText, content, err
}
