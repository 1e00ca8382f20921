package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/dispatch"
	"github.com/nextlevelbuilder/larkpipe/internal/format"
	"github.com/nextlevelbuilder/larkpipe/internal/gate"
)

// WebhookSender posts outbound messages to the send collaborator, which
// owns platform credentials and the actual API calls.
type WebhookSender struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookSender(cfg config.OutboundConfig) *WebhookSender {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSender{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

type outboundMessage struct {
	AccountID        string `json:"account_id"`
	ConversationID   string `json:"conversation_id,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	MsgType          string `json:"msg_type,omitempty"`
	Content          string `json:"content,omitempty"`

	MediaPath        string `json:"media_path,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	MediaCaption     string `json:"media_caption,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, accountID, conversationID, msgType, content string) error {
	return s.post(ctx, outboundMessage{
		AccountID: accountID, ConversationID: conversationID,
		MsgType: msgType, Content: content,
	})
}

func (s *WebhookSender) Reply(ctx context.Context, accountID, replyToID, msgType, content string) error {
	return s.post(ctx, outboundMessage{
		AccountID: accountID, ReplyToMessageID: replyToID,
		MsgType: msgType, Content: content,
	})
}

func (s *WebhookSender) SendMedia(ctx context.Context, accountID, conversationID string, media bus.MediaAttachment) error {
	return s.post(ctx, outboundMessage{
		AccountID: accountID, ConversationID: conversationID,
		MediaPath: media.Path, MediaContentType: media.ContentType, MediaCaption: media.Caption,
	})
}

// SendText delivers a plain service message, used for pairing
// instructions.
func (s *WebhookSender) SendText(ctx context.Context, accountID, conversationID, text string) error {
	content, err := format.PlainTextJSON(text)
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	return s.Send(ctx, accountID, conversationID, dispatch.MsgTypeText, content)
}

func (s *WebhookSender) post(ctx context.Context, msg outboundMessage) error {
	if s.endpoint == "" {
		return fmt.Errorf("outbound endpoint not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("outbound request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("outbound returned %d: %s", resp.StatusCode, snippet)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

var (
	_ dispatch.Sender = (*WebhookSender)(nil)
	_ gate.Notifier   = (*WebhookSender)(nil)
)
