// Package llm provides the Anthropic Messages API client used to write agent
// diaries and social posts, plus a template fallback when no key is set.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/agent-economy/internal/errs"
)

const (
	defaultURL   = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	defaultModel = "claude-haiku-4-5-20251001"
)

// Options configures a Client.
type Options struct {
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxPerMinute int
}

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient returns nil when no API key is set; a nil Client reports
// Enabled() == false.
func NewClient(opts Options) *Client {
	if opts.APIKey == "" {
		return nil
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = 20
	}
	// Burst of one keeps calls spread across the minute.
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxPerMinute)), 1)
	return &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		url:        defaultURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
	}
}

// Enabled reports whether calls will be attempted.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

func errDisabled() error {
	return errs.New(errs.CodeUpstream, "llm client not configured")
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one user turn and returns the concatenated text blocks.
// It waits on the rate limiter first, so ctx bounds the whole call.
// Failures are UPSTREAM_GENERATION errors.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", errDisabled()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errs.Upstream(err, "llm rate limit wait")
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Upstream(err, "llm call")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Upstream(err, "read llm response")
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		detail := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			detail = ae.Error.Type + ": " + ae.Error.Message
		}
		return "", errs.Newf(errs.CodeUpstream, "llm status %d: %s", resp.StatusCode, detail).
			WithDetail("status", resp.StatusCode)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errs.Upstream(err, "decode llm response")
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errs.New(errs.CodeUpstream, "llm returned no text")
	}

	slog.Debug("llm call",
		"model", c.model,
		"stop_reason", out.StopReason,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"elapsed", time.Since(start),
	)
	return text.String(), nil
}
