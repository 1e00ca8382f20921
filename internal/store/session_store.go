package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
)

// SessionStore persists per-session turn history and routing metadata.
// RecordTurn is append-only; write failures are logged by callers and never
// block reply delivery.
type SessionStore interface {
	RecordTurn(ctx context.Context, sessionKey string, rec sessions.TurnRecord) error
	SetLastRoute(ctx context.Context, sessionKey, accountID, conversationID string) error
	History(ctx context.Context, sessionKey string, limit int) ([]sessions.TurnRecord, error)
	LastUpdatedAt(ctx context.Context, sessionKey string) (time.Time, bool, error)
	List(ctx context.Context, accountID string) ([]sessions.SessionInfo, error)
	Delete(ctx context.Context, sessionKey string) error
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}
