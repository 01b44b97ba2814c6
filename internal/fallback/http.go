package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"
)

// HTTPReasoner calls an OpenAI-compatible chat completions endpoint.
type HTTPReasoner struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

func (h *HTTPReasoner) Reason(ctx context.Context, req Request) (Verdict, error) {
	maxTokens := h.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	client := h.Client
	if client == nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	messages := []map[string]string{
		{"role": "system", "content": systemPrompt},
		{"role": "user", "content": userPrompt(req)},
	}
	body, _ := json.Marshal(map[string]interface{}{
		"model":       h.Model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": 0,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.APIURL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	if h.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return Verdict{}, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Verdict{}, fmt.Errorf("%w: %w: HTTP 429", ErrUnavailable, neurorouter.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return Verdict{}, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return parseVerdict(result.Choices[0].Message.Content)
}
