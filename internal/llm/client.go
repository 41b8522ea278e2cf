// Package llm is the boundary to the model host. All roles in the workflow go
// through a single Querier; the engine never talks HTTP directly.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is a single chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response carries the model's reply. ReasoningDetails is passed through
// opaquely for hosts that expose intermediate reasoning.
type Response struct {
	Content          string          `json:"content"`
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// Querier sends a conversation to a named model and returns its reply.
// Implementations must treat empty content as a failure.
type Querier interface {
	Query(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Response, error)
}

// ErrEmptyResponse is returned when the model replied without content.
var ErrEmptyResponse = errors.New("model returned empty content")

// Client queries an OpenAI-compatible chat completions endpoint, such as a
// local LM Studio instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client for the given base URL. The per-call timeout is
// applied through the request context, not the http.Client.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string          `json:"content"`
			ReasoningDetails json.RawMessage `json:"reasoning_details"`
		} `json:"message"`
	} `json:"choices"`
}

// Query implements Querier against /v1/chat/completions.
func (c *Client) Query(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("model query failed",
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("model query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model host returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	msg := decoded.Choices[0].Message
	c.logger.Debug("model query completed",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_bytes", len(msg.Content)))

	return &Response{
		Content:          msg.Content,
		ReasoningDetails: msg.ReasoningDetails,
	}, nil
}
