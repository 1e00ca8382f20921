// Package bridge holds HTTP clients for the external collaborators: the
// response engine and the platform send service.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/pipeline"
	"github.com/nextlevelbuilder/larkpipe/internal/turn"
)

// HTTPEngine calls the response engine over HTTP: the canonical context
// goes out as JSON, the reply payloads come back in one response.
type HTTPEngine struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPEngine(cfg config.EngineConfig) *HTTPEngine {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPEngine{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

type engineResponse struct {
	Payloads []bus.ReplyPayload `json:"payloads"`
}

func (e *HTTPEngine) Generate(ctx context.Context, cc *turn.CanonicalContext) (<-chan bus.ReplyPayload, error) {
	if e.endpoint == "" {
		return nil, fmt.Errorf("engine endpoint not configured")
	}

	body, err := json.Marshal(cc)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}

	ch := make(chan bus.ReplyPayload, len(decoded.Payloads))
	for _, p := range decoded.Payloads {
		ch <- p
	}
	close(ch)
	return ch, nil
}

var _ pipeline.Engine = (*HTTPEngine)(nil)
