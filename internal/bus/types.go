package bus

import "time"

// InboundEvent is a raw conversational event delivered by the transport
// collaborator. Fields mirror the platform payload after decryption and
// signature verification, which happen outside this pipeline.
type InboundEvent struct {
	AccountID        string    `json:"account_id"`
	ConversationID   string    `json:"conversation_id"`
	MessageID        string    `json:"message_id"`
	SenderID         string    `json:"sender_id"`
	SenderKind       string    `json:"sender_kind"` // "user" or "bot"
	ConversationKind string    `json:"conversation_kind"` // "direct" or "group"
	CreatedAt        time.Time `json:"created_at"`
	RootID           string    `json:"root_id,omitempty"`
	ParentID         string    `json:"parent_id,omitempty"`
	Mentions         []Mention `json:"mentions,omitempty"`
	BodyRaw          string    `json:"body_raw"`
	Media            []string  `json:"media,omitempty"`
}

// Mention is a structured mention entry carried by the platform payload.
type Mention struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Turn is one logical unit of conversation, possibly merged from several
// raw events by the debouncer. Thread and mention metadata come from the
// last member event; MessageIDs retains every member for bookkeeping.
type Turn struct {
	AccountID        string
	ConversationID   string
	ConversationKind string
	SenderID         string
	SenderKind       string
	Body             string
	MessageIDs       []string
	RootID           string
	ParentID         string
	Mentions         []Mention
	WasMentioned     bool
	Command          string // recognized control command, empty otherwise
	FlushedAt        time.Time
}

// LastMessageID returns the id of the most recent member event.
func (t *Turn) LastMessageID() string {
	if len(t.MessageIDs) == 0 {
		return ""
	}
	return t.MessageIDs[len(t.MessageIDs)-1]
}

// ReplyPayload is one unit of engine output to deliver back to the platform.
// A payload with no text and no media is a deliberate silent reply.
type ReplyPayload struct {
	Text  string            `json:"text,omitempty"`
	Media []MediaAttachment `json:"media,omitempty"`
}

// IsSilent reports whether the payload carries nothing to send.
func (p ReplyPayload) IsSilent() bool {
	return p.Text == "" && len(p.Media) == 0
}

// MediaAttachment is a media file to deliver as its own platform message.
type MediaAttachment struct {
	Path        string `json:"path"`                   // local file path
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`      // sent with the first media item only
}

// OutboundReply is a formatted reply handed to the dispatch loop.
type OutboundReply struct {
	AccountID      string
	ConversationID string
	ReplyToID      string // thread target for the first chunk, may be empty
	Payloads       []ReplyPayload
	SessionKey     string
}
