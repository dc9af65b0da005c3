// Package trigger drives the economy from outside the server process.
// It calls the admin API to run epochs and narrative passes and polls the
// public status endpoint.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/agent-economy/internal/errs"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Name           string `json:"name"`
	LatestEpoch    int64  `json:"latest_epoch"`
	NextEpoch      int64  `json:"next_epoch"`
	Agents         int    `json:"agents"`
	Initialized    bool   `json:"initialized"`
	LLMEnabled     bool   `json:"llm_enabled"`
	EntropyEnabled bool   `json:"entropy_enabled"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Tasks          struct {
		Pending int `json:"pending"`
	} `json:"tasks"`
}

// EpochOptions overrides the event or seed of a triggered epoch.
type EpochOptions struct {
	Event string `json:"event,omitempty"`
	Seed  *int64 `json:"seed,omitempty"`
}

// EpochSummary is the subset of an epoch result the client reports on.
type EpochSummary struct {
	Epoch            int64    `json:"epoch"`
	Event            string   `json:"event"`
	TransactionCount int      `json:"transactionCount"`
	Bankruptcies     []string `json:"bankruptcies"`
	Seed             int64    `json:"seed"`
}

// CycleSummary mirrors POST /api/v1/epoch/cycle.
type CycleSummary struct {
	Epoch       EpochSummary `json:"epoch"`
	Settlements int          `json:"settlements"`
	Diaries     struct {
		Generated int  `json:"generated"`
		Existing  int  `json:"existing"`
		Skipped   bool `json:"skipped"`
	} `json:"diaries"`
	Social struct {
		Generated int `json:"generated"`
	} `json:"social"`
	Errors []string `json:"errors"`
}

// SettleSummary mirrors POST /api/v1/predictions/settle.
type SettleSummary struct {
	Epoch   int64 `json:"epoch"`
	Settled int   `json:"settled"`
	Wins    int   `json:"wins"`
	PaidOut int64 `json:"paid_out"`
}

// NarrativeSummary mirrors the diary and social generation endpoints.
type NarrativeSummary struct {
	Epoch     int64    `json:"epoch"`
	Generated int      `json:"generated"`
	Existing  int      `json:"existing"`
	Skipped   bool     `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Client calls the economy API. Control calls carry the admin key as a
// bearer token.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			// A cycle includes LLM calls for every agent.
			Timeout: 5 * time.Minute,
		},
	}
}

// Status fetches the public status document.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Init creates the agent roster if it does not exist yet.
func (c *Client) Init(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/agents/init", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Epoch runs one epoch without follow-ups. The server queues settlement
// and narrative work on its own.
func (c *Client) Epoch(ctx context.Context, opts EpochOptions) (*EpochSummary, error) {
	var out EpochSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/epoch", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cycle runs one epoch followed by settlement, diaries and social posts.
func (c *Client) Cycle(ctx context.Context, opts EpochOptions) (*CycleSummary, error) {
	var out CycleSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/epoch/cycle", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle settles open bets for epoch, or the latest epoch when nil.
func (c *Client) Settle(ctx context.Context, epoch *int64) (*SettleSummary, error) {
	var out SettleSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/predictions/settle", epochBody(epoch), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Diaries generates diaries for epoch, or the latest epoch when nil.
func (c *Client) Diaries(ctx context.Context, epoch *int64) (*NarrativeSummary, error) {
	var out NarrativeSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/diaries/generate", epochBody(epoch), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Social generates social posts for the latest epoch.
func (c *Client) Social(ctx context.Context) (*NarrativeSummary, error) {
	var out NarrativeSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/social/generate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func epochBody(epoch *int64) any {
	if epoch == nil {
		return nil
	}
	return map[string]int64{"epoch": *epoch}
}

type errorEnvelope struct {
	Error struct {
		Code    errs.Code      `json:"code"`
		Reason  string         `json:"reason"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && c.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error envelope back into an *errs.Error so callers
// can branch on code and reason.
func decodeError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		code := errs.CodeInternal
		if status < 500 {
			code = errs.CodeValidation
		}
		return errs.Newf(code, "request failed (%d): %s", status, strings.TrimSpace(string(body)))
	}
	e := errs.New(env.Error.Code, env.Error.Message)
	if env.Error.Reason != "" {
		e = e.WithReason(env.Error.Reason)
	}
	for k, v := range env.Error.Details {
		e = e.WithDetail(k, v)
	}
	return e
}
