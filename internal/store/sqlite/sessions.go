package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// SQLiteSessionStore implements store.SessionStore on the embedded db.
type SQLiteSessionStore struct {
	db *sql.DB
}

func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

func (s *SQLiteSessionStore) RecordTurn(ctx context.Context, key string, rec sessions.TurnRecord) error {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, now, now,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	at := rec.At
	if at.IsZero() {
		at = now
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session_turns (id, session_key, role, content, sender_id, message_id, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), key, rec.Role, rec.Content, rec.SenderID, rec.MessageID, at,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) SetLastRoute(ctx context.Context, key, accountID, conversationID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, account_id, last_conversation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET
			account_id = excluded.account_id,
			last_conversation_id = excluded.last_conversation_id,
			updated_at = excluded.updated_at`,
		key, accountID, conversationID, now, now,
	)
	if err != nil {
		return fmt.Errorf("set last route: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) History(ctx context.Context, key string, limit int) ([]sessions.TurnRecord, error) {
	query := `SELECT role, content, sender_id, message_id, at FROM session_turns
		 WHERE session_key = ? ORDER BY at DESC`
	args := []interface{}{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []sessions.TurnRecord
	for rows.Next() {
		var rec sessions.TurnRecord
		if err := rows.Scan(&rec.Role, &rec.Content, &rec.SenderID, &rec.MessageID, &rec.At); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, rec)
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) LastUpdatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM sessions WHERE session_key = ?`, key,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query updated_at: %w", err)
	}
	return at, true, nil
}

func (s *SQLiteSessionStore) List(ctx context.Context, accountID string) ([]sessions.SessionInfo, error) {
	query := `SELECT s.session_key, COUNT(t.id), s.created_at, s.updated_at
		 FROM sessions s LEFT JOIN session_turns t ON t.session_key = s.session_key`
	args := []interface{}{}
	if accountID != "" {
		query += ` WHERE s.session_key LIKE ?`
		args = append(args, "account:"+accountID+":%")
	}
	query += ` GROUP BY s.session_key ORDER BY s.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []sessions.SessionInfo
	for rows.Next() {
		var info sessions.SessionInfo
		if err := rows.Scan(&info.Key, &info.TurnCount, &info.Created, &info.Updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_turns WHERE session_key IN
			(SELECT session_key FROM sessions WHERE updated_at < ?)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("delete idle turns: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ store.SessionStore = (*SQLiteSessionStore)(nil)
