// Package mcpexec runs tool calls against a Model Context Protocol server over streamable HTTP.
package mcpexec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

type Options struct {
	ClientName    string
	ClientVersion string
	Executor      *resilience.Executor
}

// Client connects lazily on first use and reuses the session afterwards.
type Client struct {
	url      string
	opts     Options
	executor *resilience.Executor

	mu      sync.Mutex
	session *client.Client
}

func New(url string, opts Options) *Client {
	if opts.ClientName == "" {
		opts.ClientName = "command-router"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	return &Client{url: strings.TrimRight(url, "/"), opts: opts, executor: opts.Executor}
}

func (c *Client) Execute(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	if strings.TrimSpace(call.Tool) == "" {
		return domain.ToolResult{}, domain.WrapError(domain.ErrInvalidInput, "tool execute", fmt.Errorf("tool name is required"))
	}

	result, err := resilience.Call(ctx, c.executor, "tool.execute", func(ctx context.Context) (domain.ToolResult, error) {
		return c.callTool(ctx, call)
	}, nil)
	if err != nil {
		return domain.ToolResult{}, domain.WrapError(domain.ErrToolFailure, "tool "+call.Tool, err)
	}
	return result, nil
}

func (c *Client) Name() string { return "tools" }

func (c *Client) Ping(ctx context.Context) error {
	session, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := session.Ping(ctx); err != nil {
		c.dropAfter(ctx, session)
		return fmt.Errorf("mcp ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *Client) callTool(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return domain.ToolResult{}, err
	}

	args := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = call.Tool
	req.Params.Arguments = args

	res, err := session.CallTool(ctx, req)
	if err != nil {
		c.dropAfter(ctx, session)
		return domain.ToolResult{}, fmt.Errorf("mcp call %s: %w", call.Tool, err)
	}

	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return domain.ToolResult{}, fmt.Errorf("mcp tool %s: %s", call.Tool, text)
	}
	return domain.ToolResult{Content: text}, nil
}

func (c *Client) connect(ctx context.Context) (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	session, err := client.NewStreamableHttpClient(c.url)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion}
	if _, err := session.Initialize(ctx, initReq); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	c.session = session
	return session, nil
}

// dropAfter closes session after a failed call on it. A caller whose own context ended leaves the
// shared session alone, and a session already replaced by a newer one is not touched.
func (c *Client) dropAfter(ctx context.Context, session *client.Client) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session == session {
		_ = c.session.Close()
		c.session = nil
	}
}

func joinText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if text, ok := mcp.AsTextContent(item); ok && strings.TrimSpace(text.Text) != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
