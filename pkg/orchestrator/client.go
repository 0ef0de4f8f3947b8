// Package orchestrator is the HTTP client for the external Shepherd
// orchestrator. The orchestrator owns the actual workflow engine; the console
// only pulls state from it and triggers compaction.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is returned for non-2xx responses so callers can distinguish an
// upstream rejection from a plain network failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("orchestrator returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("orchestrator returned %d", e.StatusCode)
}

// Client talks to the orchestrator REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (no trailing slash).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured orchestrator base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ListConversations fetches the ordered list of known conversation IDs.
// Accepts either a bare JSON array or {"conversations": [...]}.
func (c *Client) ListConversations(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/conversations")
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err == nil {
		return ids, nil
	}
	var wrapped conversationList
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse conversation list: %w", err)
	}
	return wrapped.Conversations, nil
}

// GetTokenUsage fetches the latest usage snapshot for a conversation.
func (c *Client) GetTokenUsage(ctx context.Context, conversationID string) (*TokenUsage, error) {
	body, err := c.get(ctx, "/api/conversations/"+conversationID+"/token-usage")
	if err != nil {
		return nil, err
	}

	var usage TokenUsage
	if err := json.Unmarshal(body, &usage); err != nil {
		return nil, fmt.Errorf("parse token usage: %w", err)
	}
	if usage.ConversationID == "" {
		usage.ConversationID = conversationID
	}
	return &usage, nil
}

// Compact asks the orchestrator to compact a conversation with the given
// strategy. A non-2xx status or malformed body is an error; a well-formed
// response with success=false is returned as-is for the caller to record.
func (c *Client) Compact(ctx context.Context, conversationID, strategy string) (*CompactResult, error) {
	reqBody, err := json.Marshal(CompactRequest{ConversationID: conversationID, Strategy: strategy})
	if err != nil {
		return nil, fmt.Errorf("marshal compact request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/conversations/"+conversationID+"/compact", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build compact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compact request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read compact response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result CompactResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse compact response: %w", err)
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
