// Package httpexec calls the external tool-execution service over plain JSON HTTP.
package httpexec

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

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool service status: %s", e.Status)
	}
	return fmt.Sprintf("tool service status: %s: %s", e.Status, e.Message)
}

// Execute runs one tool call. Calls may have side effects, so failures are never retried here.
func (c *Client) Execute(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	if strings.TrimSpace(call.Tool) == "" {
		return domain.ToolResult{}, domain.WrapError(domain.ErrInvalidInput, "tool execute", fmt.Errorf("tool name is required"))
	}
	args := call.Arguments
	if args == nil {
		args = map[string]string{}
	}
	payload := map[string]any{"tool": call.Tool, "arguments": args}

	result, err := resilience.Call(ctx, c.executor, "tool.execute", func(ctx context.Context) (domain.ToolResult, error) {
		var out domain.ToolResult
		if err := c.send(ctx, http.MethodPost, "/execute", payload, &out); err != nil {
			return domain.ToolResult{}, err
		}
		return out, nil
	}, classifyExecuteError)
	if err != nil {
		return domain.ToolResult{}, domain.WrapError(domain.ErrToolFailure, "tool "+call.Tool, err)
	}
	return result, nil
}

func (c *Client) Name() string { return "tools" }

func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) send(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal tool request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create tool request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tool service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return formatStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tool response: %w", err)
	}
	return nil
}

func formatStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(raw))
	var errBody struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
		msg = errBody.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Message: msg}
}

// classifyExecuteError never asks for a retry. A tool that answered 4xx refused the call and stays healthy.
func classifyExecuteError(err error) resilience.Verdict {
	if v, ok := resilience.ContextVerdict(err); ok {
		return resilience.Verdict{Trip: v.Trip}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return resilience.Verdict{Trip: statusErr.StatusCode >= 500}
	}
	return resilience.Permanent
}
