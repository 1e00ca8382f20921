package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TurnRecord is one persisted conversation turn.
type TurnRecord struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	At        time.Time `json:"at"`
}

// Session stores routing metadata and turn history for one session key.
type Session struct {
	Key     string       `json:"key"`
	Turns   []TurnRecord `json:"turns"`
	Created time.Time    `json:"created"`
	Updated time.Time    `json:"updated"`

	// Last delivery route, updated only for direct conversations.
	LastConversationID string `json:"lastConversationId,omitempty"`
	AccountID          string `json:"accountId,omitempty"`
}

// Manager handles session lifecycle, persistence, and lookup. With an empty
// storage path it is purely in-memory.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0755)
		m.loadAll()
	}
	return m
}

// AppendTurn appends a turn to a session, creating it if needed.
func (m *Manager) AppendTurn(key string, rec TurnRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Turns: []TurnRecord{}, Created: time.Now()}
		m.sessions[key] = s
	}
	s.Turns = append(s.Turns, rec)
	s.Updated = time.Now()
}

// SetLastRoute records the most recent delivery target for a session.
func (m *Manager) SetLastRoute(key, accountID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.AccountID = accountID
		s.LastConversationID = conversationID
	}
}

// History returns a copy of the turn history.
func (m *Manager) History(key string) []TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	turns := make([]TurnRecord, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

// LastUpdatedAt returns the session's last update time, or ok=false if the
// session does not exist.
func (m *Manager) LastUpdatedAt(key string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Updated, true
	}
	return time.Time{}, false
}

// TruncateHistory keeps only the last N turns.
func (m *Manager) TruncateHistory(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if keepLast <= 0 {
		s.Turns = []TurnRecord{}
	} else if len(s.Turns) > keepLast {
		s.Turns = s.Turns[len(s.Turns)-keepLast:]
	}
	s.Updated = time.Now()
}

// Reset clears a session's history.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Turns = []TurnRecord{}
		s.Updated = time.Now()
	}
}

// Delete removes a session entirely.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.storage != "" {
		path := filepath.Join(m.storage, sanitizeFilename(key)+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// SessionInfo is a lightweight session descriptor for listing.
type SessionInfo struct {
	Key       string    `json:"key"`
	TurnCount int       `json:"turnCount"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// List returns metadata for all sessions, optionally filtered by account ID.
func (m *Manager) List(accountID string) []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ""
	if accountID != "" {
		prefix = "account:" + accountID + ":"
	}

	var result []SessionInfo
	for key, s := range m.sessions {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		result = append(result, SessionInfo{
			Key:       key,
			TurnCount: len(s.Turns),
			Created:   s.Created,
			Updated:   s.Updated,
		})
	}
	return result
}

// DeleteIdleBefore removes sessions not updated since the cutoff. Returns
// the number removed. Used by the retention sweep.
func (m *Manager) DeleteIdleBefore(cutoff time.Time) int {
	m.mu.RLock()
	var stale []string
	for key, s := range m.sessions {
		if s.Updated.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	m.mu.RUnlock()

	for _, key := range stale {
		m.Delete(key)
	}
	return len(stale)
}

// Save persists a session to disk atomically.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}

	// Snapshot under lock
	snapshot := Session{
		Key:                s.Key,
		Created:            s.Created,
		Updated:            s.Updated,
		LastConversationID: s.LastConversationID,
		AccountID:          s.AccountID,
	}
	snapshot.Turns = make([]TurnRecord, len(s.Turns))
	copy(snapshot.Turns, s.Turns)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}

	sessionPath := filepath.Join(m.storage, filename+".json")

	// Atomic write: temp file → rename
	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			continue
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		if s.Key == "" {
			continue
		}
		m.sessions[s.Key] = &s
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
