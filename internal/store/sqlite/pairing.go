package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// SQLitePairingStore implements store.PairingStore on the embedded db.
type SQLitePairingStore struct {
	db *sql.DB
}

func NewSQLitePairingStore(db *sql.DB) *SQLitePairingStore {
	return &SQLitePairingStore{db: db}
}

func (s *SQLitePairingStore) UpsertRequest(ctx context.Context, channel, externalID string, meta store.PairingMeta) (string, bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		channel, externalID,
	).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("query pairing request: %w", err)
	}

	code := strings.ToUpper(uuid.NewString()[:8])
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO pairing_requests (channel, external_id, code, conversation_id, display_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, external_id) DO NOTHING`,
		channel, externalID, code, meta.ConversationID, meta.DisplayName, time.Now(),
	); err != nil {
		return "", false, fmt.Errorf("insert pairing request: %w", err)
	}

	// A concurrent insert may have won; return the stored code either way.
	err = s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		channel, externalID,
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("reread pairing request: %w", err)
	}
	return existing, existing == code, nil
}

func (s *SQLitePairingStore) IsPaired(ctx context.Context, channel, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pairing_approved WHERE channel = ? AND external_id = ?`,
		channel, externalID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query paired: %w", err)
	}
	return true, nil
}

func (s *SQLitePairingStore) Approve(ctx context.Context, code string) (store.PairingRequest, error) {
	var req store.PairingRequest
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, external_id, code, conversation_id, display_name, created_at
		 FROM pairing_requests WHERE UPPER(code) = UPPER(?)`, code,
	).Scan(&req.Channel, &req.ExternalID, &req.Code, &req.ConversationID, &req.DisplayName, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return store.PairingRequest{}, fmt.Errorf("pairing code %q not found", code)
	}
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("query pairing code: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		req.Channel, req.ExternalID,
	); err != nil {
		return store.PairingRequest{}, fmt.Errorf("consume pairing request: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO pairing_approved (channel, external_id, approved_at) VALUES (?, ?, ?)
		 ON CONFLICT (channel, external_id) DO NOTHING`,
		req.Channel, req.ExternalID, time.Now(),
	); err != nil {
		return store.PairingRequest{}, fmt.Errorf("record approval: %w", err)
	}
	return req, nil
}

func (s *SQLitePairingStore) ListPending(ctx context.Context, channel string) ([]store.PairingRequest, error) {
	query := `SELECT channel, external_id, code, conversation_id, display_name, created_at
		 FROM pairing_requests`
	args := []interface{}{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairing requests: %w", err)
	}
	defer rows.Close()

	var out []store.PairingRequest
	for rows.Next() {
		var req store.PairingRequest
		if err := rows.Scan(&req.Channel, &req.ExternalID, &req.Code, &req.ConversationID, &req.DisplayName, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pairing request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLitePairingStore) Revoke(ctx context.Context, channel, externalID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		channel, externalID,
	); err != nil {
		return fmt.Errorf("revoke pairing request: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_approved WHERE channel = ? AND external_id = ?`,
		channel, externalID,
	); err != nil {
		return fmt.Errorf("revoke approval: %w", err)
	}
	return nil
}

func (s *SQLitePairingStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired pairing requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ store.PairingStore = (*SQLitePairingStore)(nil)
