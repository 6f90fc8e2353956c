// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quillmind/quill/pkg/memory"
)

const (
	defaultAPIBase = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-5.2"
)

// Message is one chat turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError carries the HTTP failure detail from the completion endpoint,
// including any server-provided retry hint.
type APIError struct {
	Status int
	Body   string
	After  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API request failed: status %d: %s", e.Status, e.Body)
}

// RetryAfter exposes the server hint for the retry policy.
func (e *APIError) RetryAfter() time.Duration { return e.After }

// Retryable reports whether an error is worth another attempt: rate
// limits, server errors and transport failures qualify.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	// Transport-level failures (timeouts, resets) carry no status.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, memory.ErrValidation)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

func NewClient(apiKey, apiBase, model string, timeout time.Duration) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Model() string { return c.model }

// Complete sends the messages and returns the assistant text of the first
// choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: completion API key not configured", memory.ErrValidation)
	}

	requestBody := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", errors.Join(memory.ErrProvider, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", errors.Join(memory.ErrProvider, err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
				apiErr.After = time.Duration(secs) * time.Second
			}
		}
		return "", fmt.Errorf("complete: %w", errors.Join(memory.ErrProvider, apiErr))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", errors.Join(memory.ErrProvider, err))
	}
	if len(apiResponse.Choices) == 0 {
		return "", nil
	}
	return apiResponse.Choices[0].Message.Content, nil
}
