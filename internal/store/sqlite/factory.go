// Package sqlite holds the default embedded storage backend.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// NewSQLiteStores opens (or creates) the database file and returns both
// stores backed by it.
func NewSQLiteStores(path string) (*store.Stores, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}

	return &store.Stores{
		Sessions: NewSQLiteSessionStore(db),
		Pairing:  NewSQLitePairingStore(db),
	}, nil
}

func bootstrap(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			account_id TEXT NOT NULL DEFAULT '',
			last_conversation_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_turns (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_turns_key ON session_turns(session_key, at)`,
		`CREATE TABLE IF NOT EXISTS pairing_requests (
			channel TEXT NOT NULL,
			external_id TEXT NOT NULL,
			code TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (channel, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pairing_approved (
			channel TEXT NOT NULL,
			external_id TEXT NOT NULL,
			approved_at TIMESTAMP NOT NULL,
			PRIMARY KEY (channel, external_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
