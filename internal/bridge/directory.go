package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/turn"
)

// HTTPDirectory resolves display names through the directory
// collaborator, which owns the platform contact API and its credentials.
type HTTPDirectory struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPDirectory(cfg config.DirectoryConfig) *HTTPDirectory {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

type directoryQuery struct {
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"` // "user" or "conversation"
	ID        string `json:"id"`
}

type directoryResult struct {
	Name string `json:"name"`
}

func (d *HTTPDirectory) UserName(ctx context.Context, accountID, userID string) (string, error) {
	return d.resolve(ctx, directoryQuery{AccountID: accountID, Kind: "user", ID: userID})
}

func (d *HTTPDirectory) GroupName(ctx context.Context, accountID, conversationID string) (string, error) {
	return d.resolve(ctx, directoryQuery{AccountID: accountID, Kind: "conversation", ID: conversationID})
}

func (d *HTTPDirectory) resolve(ctx context.Context, q directoryQuery) (string, error) {
	if d.endpoint == "" {
		return "", fmt.Errorf("directory endpoint not configured")
	}

	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode directory query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("directory returned %d: %s", resp.StatusCode, snippet)
	}

	var result directoryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode directory response: %w", err)
	}
	return result.Name, nil
}

var _ turn.Lookup = (*HTTPDirectory)(nil)
