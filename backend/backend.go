// Package backend implements the Phase Executor against an
// Ollama-compatible chat endpoint. Each phase call sends a system/user
// prompt pair with the phase's JSON schema as the structured-output
// format, validates the answer against that schema, and decodes it into
// the engine's typed result for the phase.
//
// Schema-invalid or undecodable answers are retried under the client's
// retry policy; once the budget is spent the call fails with
// epist.ErrInvalidResponse and the engine aborts the run.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/epistlab/epist"
	"github.com/epistlab/epist/internal/retry"
)

// DefaultHost is the conventional local Ollama address.
const DefaultHost = "http://127.0.0.1:11434"

// Client calls an Ollama-compatible /api/chat endpoint and implements
// epist.Executor.
type Client struct {
	host   string
	http   *http.Client
	policy retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy overrides the structured-output retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates a backend client. An empty host selects DefaultHost.
func New(host string, opts ...Option) *Client {
	if host == "" {
		host = DefaultHost
	}
	c := &Client{
		host:   host,
		http:   &http.Client{Timeout: 10 * time.Minute},
		policy: retry.DefaultPolicy(),
	}
	c.policy.Retryable = retryable
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable limits retries to malformed answers; transport errors are
// surfaced immediately.
func retryable(err error) bool {
	return errors.Is(err, epist.ErrInvalidResponse)
}

// Execute implements epist.Executor.
func (c *Client) Execute(ctx context.Context, phase epist.Phase, snap epist.State) (any, error) {
	msgs, err := messagesFor(phase, snap)
	if err != nil {
		return nil, err
	}
	schema, err := schemaFor(phase)
	if err != nil {
		return nil, err
	}

	var result any
	err = c.policy.Do(ctx, func() error {
		content, err := c.chat(ctx, snap.ModelID, msgs, schema.raw)
		if err != nil {
			return err
		}
		if err := schema.validate(content); err != nil {
			return err
		}
		result, err = decode(phase, content)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", phase, err)
	}
	return result, nil
}

// chatMessage is one turn of an Ollama chat request or response.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the /api/chat request body. Format carries the JSON
// schema the model must conform to.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
}

// chatResponse is the subset of the /api/chat response the client reads.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// chat performs one round trip and returns the raw answer content.
func (c *Client) chat(ctx context.Context, model string, msgs []chatMessage, format json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Format:   format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	return []byte(cr.Message.Content), nil
}
