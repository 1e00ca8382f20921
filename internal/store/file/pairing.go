package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// FilePairingStore keeps pairing requests and approvals in a single JSON
// file under the storage directory.
type FilePairingStore struct {
	mu      sync.Mutex
	path    string
	pending map[string]store.PairingRequest // channel|externalID → request
	paired  map[string]time.Time            // channel|externalID → approved at
}

type pairingFile struct {
	Pending []store.PairingRequest `json:"pending"`
	Paired  map[string]time.Time   `json:"paired"`
}

func NewFilePairingStore(dir string) (*FilePairingStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create pairing dir: %w", err)
	}
	s := &FilePairingStore{
		path:    filepath.Join(dir, "pairing.json"),
		pending: make(map[string]store.PairingRequest),
		paired:  make(map[string]time.Time),
	}
	s.load()
	return s, nil
}

func pairKey(channel, externalID string) string {
	return channel + "|" + externalID
}

func (s *FilePairingStore) UpsertRequest(_ context.Context, channel, externalID string, meta store.PairingMeta) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(channel, externalID)
	if req, ok := s.pending[key]; ok {
		return req.Code, false, nil
	}

	req := store.PairingRequest{
		Channel:        channel,
		ExternalID:     externalID,
		Code:           newPairingCode(),
		ConversationID: meta.ConversationID,
		DisplayName:    meta.DisplayName,
		CreatedAt:      time.Now(),
	}
	s.pending[key] = req
	return req.Code, true, s.save()
}

func (s *FilePairingStore) IsPaired(_ context.Context, channel, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paired[pairKey(channel, externalID)]
	return ok, nil
}

func (s *FilePairingStore) Approve(_ context.Context, code string) (store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, req := range s.pending {
		if strings.EqualFold(req.Code, code) {
			delete(s.pending, key)
			s.paired[key] = time.Now()
			return req, s.save()
		}
	}
	return store.PairingRequest{}, fmt.Errorf("pairing code %q not found", code)
}

func (s *FilePairingStore) ListPending(_ context.Context, channel string) ([]store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.PairingRequest
	for _, req := range s.pending {
		if channel == "" || req.Channel == channel {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *FilePairingStore) Revoke(_ context.Context, channel, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(channel, externalID)
	delete(s.pending, key)
	delete(s.paired, key)
	return s.save()
}

func (s *FilePairingStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, req := range s.pending {
		if req.CreatedAt.Before(cutoff) {
			delete(s.pending, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

// newPairingCode returns a short operator-friendly code.
func newPairingCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

func (s *FilePairingStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var f pairingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	for _, req := range f.Pending {
		s.pending[pairKey(req.Channel, req.ExternalID)] = req
	}
	if f.Paired != nil {
		s.paired = f.Paired
	}
}

// save persists state under the held lock, atomically.
func (s *FilePairingStore) save() error {
	f := pairingFile{Paired: s.paired}
	for _, req := range s.pending {
		f.Pending = append(f.Pending, req)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "pairing-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	return os.Rename(tmpPath, s.path)
}

var _ store.PairingStore = (*FilePairingStore)(nil)
