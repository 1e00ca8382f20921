package store

import (
	"context"
	"time"
)

// PairingRequest is an ephemeral trust-bootstrap record for an unrecognized
// DM sender. One unapproved request exists per (channel, externalID).
type PairingRequest struct {
	Channel        string    `json:"channel"`
	ExternalID     string    `json:"externalId"`
	Code           string    `json:"code"`
	ConversationID string    `json:"conversationId,omitempty"`
	DisplayName    string    `json:"displayName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PairingMeta carries optional context recorded with a request.
type PairingMeta struct {
	ConversationID string
	DisplayName    string
}

// PairingStore manages pairing requests and approvals. UpsertRequest is
// idempotent per (channel, externalID): a second call before approval
// returns the existing code with created=false.
type PairingStore interface {
	UpsertRequest(ctx context.Context, channel, externalID string, meta PairingMeta) (code string, created bool, err error)
	IsPaired(ctx context.Context, channel, externalID string) (bool, error)
	Approve(ctx context.Context, code string) (PairingRequest, error)
	ListPending(ctx context.Context, channel string) ([]PairingRequest, error)
	Revoke(ctx context.Context, channel, externalID string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
