package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
)

type sentMessage struct {
	kind    string // "send", "reply", "media"
	msgType string
	target  string // conversation or reply-to id
	content string
	caption string
}

type fakeSender struct {
	sent      []sentMessage
	failAfter int // fail once this many messages went out, -1 never
}

func newFakeSender() *fakeSender { return &fakeSender{failAfter: -1} }

func (f *fakeSender) check() error {
	if f.failAfter >= 0 && len(f.sent) >= f.failAfter {
		return errors.New("platform unavailable")
	}
	return nil
}

func (f *fakeSender) Send(_ context.Context, _, conversationID, msgType, content string) error {
	if err := f.check(); err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{kind: "send", msgType: msgType, target: conversationID, content: content})
	return nil
}

func (f *fakeSender) Reply(_ context.Context, _, replyToID, msgType, content string) error {
	if err := f.check(); err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{kind: "reply", msgType: msgType, target: replyToID, content: content})
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, conversationID string, media bus.MediaAttachment) error {
	if err := f.check(); err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{kind: "media", target: conversationID, content: media.Path, caption: media.Caption})
	return nil
}

func testConfig(acct *config.AccountConfig) *config.Config {
	acct.Enabled = true
	return &config.Config{Accounts: map[string]*config.AccountConfig{"main": acct}}
}

func textReply(payloads ...bus.ReplyPayload) bus.OutboundReply {
	return bus.OutboundReply{
		AccountID:      "main",
		ConversationID: "oc_1",
		ReplyToID:      "om_root",
		SessionKey:     "account:main:group:oc_1",
		Payloads:       payloads,
	}
}

// TestDispatch_FirstChunkReplies checks that only the first chunk of the
// first payload targets the thread; the rest are plain sends.
func TestDispatch_FirstChunkReplies(t *testing.T) {
	sender := newFakeSender()
	d := New(testConfig(&config.AccountConfig{TextChunkLimit: 30, RenderMode: "plain"}), sender)

	err := d.Dispatch(context.Background(), textReply(
		bus.ReplyPayload{Text: "First paragraph of the reply.\n\nSecond paragraph of the reply."},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	if sender.sent[0].kind != "reply" || sender.sent[0].target != "om_root" {
		t.Errorf("first send = %+v, want reply to om_root", sender.sent[0])
	}
	if sender.sent[1].kind != "send" || sender.sent[1].target != "oc_1" {
		t.Errorf("second send = %+v, want plain send to oc_1", sender.sent[1])
	}
	if !d.HasReplied("account:main:group:oc_1") {
		t.Error("HasReplied = false after successful delivery")
	}
}

// TestDispatch_SilentPayloadSkipped checks that an empty payload neither
// sends anything nor consumes the thread-reply slot.
func TestDispatch_SilentPayloadSkipped(t *testing.T) {
	sender := newFakeSender()
	d := New(testConfig(&config.AccountConfig{RenderMode: "plain"}), sender)

	err := d.Dispatch(context.Background(), textReply(
		bus.ReplyPayload{},
		bus.ReplyPayload{Text: "actual answer"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].kind != "reply" {
		t.Errorf("first real payload lost the thread slot: %+v", sender.sent[0])
	}
}

func TestDispatch_AllSilentSetsNothing(t *testing.T) {
	sender := newFakeSender()
	d := New(testConfig(&config.AccountConfig{}), sender)

	if err := d.Dispatch(context.Background(), textReply(bus.ReplyPayload{})); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("silent turn sent %d messages", len(sender.sent))
	}
	if d.HasReplied("account:main:group:oc_1") {
		t.Error("HasReplied = true for silent turn")
	}
}

// TestDispatch_ReplyToModes exercises off, first, and all.
func TestDispatch_ReplyToModes(t *testing.T) {
	t.Run("off never threads", func(t *testing.T) {
		sender := newFakeSender()
		d := New(testConfig(&config.AccountConfig{ReplyToMode: config.ReplyToOff, RenderMode: "plain"}), sender)
		if err := d.Dispatch(context.Background(), textReply(bus.ReplyPayload{Text: "hi"})); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if sender.sent[0].kind != "send" {
			t.Errorf("mode off produced a threaded reply: %+v", sender.sent[0])
		}
	})

	t.Run("first threads once per session", func(t *testing.T) {
		sender := newFakeSender()
		d := New(testConfig(&config.AccountConfig{RenderMode: "plain"}), sender)
		ctx := context.Background()
		if err := d.Dispatch(ctx, textReply(bus.ReplyPayload{Text: "one"})); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if err := d.Dispatch(ctx, textReply(bus.ReplyPayload{Text: "two"})); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if sender.sent[0].kind != "reply" {
			t.Errorf("first turn did not thread: %+v", sender.sent[0])
		}
		if sender.sent[1].kind != "send" {
			t.Errorf("second turn threaded again: %+v", sender.sent[1])
		}
	})

	t.Run("all always threads", func(t *testing.T) {
		sender := newFakeSender()
		d := New(testConfig(&config.AccountConfig{ReplyToMode: config.ReplyToAll, RenderMode: "plain"}), sender)
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			if err := d.Dispatch(ctx, textReply(bus.ReplyPayload{Text: "hi"})); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
		}
		for i, s := range sender.sent {
			if s.kind != "reply" {
				t.Errorf("send %d not threaded under mode all: %+v", i, s)
			}
		}
	})
}

// TestDispatch_FailureAbandonsTurn checks that a mid-turn send failure
// drops the remaining chunks and leaves the replied flag unset.
func TestDispatch_FailureAbandonsTurn(t *testing.T) {
	sender := newFakeSender()
	sender.failAfter = 1
	d := New(testConfig(&config.AccountConfig{TextChunkLimit: 30, RenderMode: "plain"}), sender)

	err := d.Dispatch(context.Background(), textReply(
		bus.ReplyPayload{Text: "First paragraph of the reply.\n\nSecond paragraph of the reply."},
	))
	if err == nil {
		t.Fatal("Dispatch succeeded despite send failure")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages after failure, want 1", len(sender.sent))
	}
	if d.HasReplied("account:main:group:oc_1") {
		t.Error("HasReplied = true after failed turn")
	}
}

// TestDispatch_MediaCaptionFirstOnly checks that media items go out as
// separate sends and only the first keeps its caption.
func TestDispatch_MediaCaptionFirstOnly(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.png")
	p2 := filepath.Join(dir, "b.png")
	for _, p := range []string{p1, p2} {
		if err := os.WriteFile(p, []byte("tiny"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	sender := newFakeSender()
	d := New(testConfig(&config.AccountConfig{RenderMode: "plain"}), sender)

	err := d.Dispatch(context.Background(), textReply(bus.ReplyPayload{
		Media: []bus.MediaAttachment{
			{Path: p1, Caption: "here you go"},
			{Path: p2, Caption: "here you go"},
		},
	}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	if sender.sent[0].caption != "here you go" {
		t.Errorf("first media caption = %q", sender.sent[0].caption)
	}
	if sender.sent[1].caption != "" {
		t.Errorf("second media caption = %q, want empty", sender.sent[1].caption)
	}
}

func TestDispatch_MissingMediaSkipped(t *testing.T) {
	sender := newFakeSender()
	d := New(testConfig(&config.AccountConfig{RenderMode: "plain"}), sender)

	err := d.Dispatch(context.Background(), textReply(bus.ReplyPayload{
		Text:  "see attachment",
		Media: []bus.MediaAttachment{{Path: "/nonexistent/file.png"}},
	}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want text only", len(sender.sent))
	}
}

// TestRenderChunk checks the auto mode picks rich content only for
// markdown constructs.
func TestRenderChunk(t *testing.T) {
	msgType, content, err := renderChunk("plain words", "auto")
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgTypeText {
		t.Errorf("plain text rendered as %s", msgType)
	}
	if !strings.Contains(content, "plain words") {
		t.Errorf("content = %q", content)
	}

	msgType, content, err = renderChunk("see `code` here", "auto")
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgTypePost {
		t.Errorf("markdown rendered as %s", msgType)
	}
	if !strings.Contains(content, "code") {
		t.Errorf("content = %q", content)
	}

	if msgType, _, _ := renderChunk("see `code` here", "plain"); msgType != MsgTypeText {
		t.Errorf("forced plain rendered as %s", msgType)
	}
	if msgType, _, _ := renderChunk("plain words", "rich"); msgType != MsgTypePost {
		t.Errorf("forced rich rendered as %s", msgType)
	}
}
