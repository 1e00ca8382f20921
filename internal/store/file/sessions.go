// Package file holds the file-backed storage backend: sessions persisted
// as one JSON document per key, pairing requests as a single JSON file.
package file

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// FileSessionStore wraps sessions.Manager to implement store.SessionStore.
type FileSessionStore struct {
	mgr *sessions.Manager
}

func NewFileSessionStore(mgr *sessions.Manager) *FileSessionStore {
	return &FileSessionStore{mgr: mgr}
}

func (f *FileSessionStore) RecordTurn(_ context.Context, key string, rec sessions.TurnRecord) error {
	f.mgr.AppendTurn(key, rec)
	return f.mgr.Save(key)
}

func (f *FileSessionStore) SetLastRoute(_ context.Context, key, accountID, conversationID string) error {
	f.mgr.SetLastRoute(key, accountID, conversationID)
	return f.mgr.Save(key)
}

func (f *FileSessionStore) History(_ context.Context, key string, limit int) ([]sessions.TurnRecord, error) {
	turns := f.mgr.History(key)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *FileSessionStore) LastUpdatedAt(_ context.Context, key string) (time.Time, bool, error) {
	at, ok := f.mgr.LastUpdatedAt(key)
	return at, ok, nil
}

func (f *FileSessionStore) List(_ context.Context, accountID string) ([]sessions.SessionInfo, error) {
	return f.mgr.List(accountID), nil
}

func (f *FileSessionStore) Delete(_ context.Context, key string) error {
	return f.mgr.Delete(key)
}

func (f *FileSessionStore) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	return f.mgr.DeleteIdleBefore(cutoff), nil
}

var _ store.SessionStore = (*FileSessionStore)(nil)
