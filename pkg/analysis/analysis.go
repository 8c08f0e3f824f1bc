// Package analysis is the client side of the external analysis service.
// The service's response is passed through untouched.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nicktill/tinyfocus/pkg/event"
)

// ErrNoEndpoint is returned by an analyzer with nowhere to send chunks
var ErrNoEndpoint = errors.New("analysis endpoint not configured")

// Request is one chunk submitted for analysis
type Request struct {
	SessionID   string                 `json:"session_id"`
	UserID      string                 `json:"user_id"`
	ChunkNumber int                    `json:"chunk_number"`
	Events      []event.OptimizedEvent `json:"events"`
	Context     string                 `json:"context,omitempty"`
}

// Result is the service's answer for one chunk
type Result struct {
	SessionID   string          `json:"session_id"`
	ChunkNumber int             `json:"chunk_number"`
	Assessment  json.RawMessage `json:"assessment"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Analyzer submits a chunk and returns the service's assessment
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a plain function to Analyzer
type Func func(ctx context.Context, req Request) (*Result, error)

func (f Func) Analyze(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// HTTPAnalyzer posts chunks as JSON to the analysis endpoint.
// The request is bounded only by the caller's context.
type HTTPAnalyzer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates a new HTTP analyzer
func NewHTTP(endpoint, apiKey string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{},
	}
}

// Analyze sends the chunk and decodes the assessment
func (a *HTTPAnalyzer) Analyze(ctx context.Context, r Request) (*Result, error) {
	if a.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	} else if !json.Valid(data) {
		return nil, fmt.Errorf("analysis service returned invalid JSON")
	}

	return &Result{
		SessionID:   r.SessionID,
		ChunkNumber: r.ChunkNumber,
		Assessment:  json.RawMessage(data),
	}, nil
}
