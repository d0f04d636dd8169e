// Package openaicompat talks to local inference servers that expose the OpenAI HTTP API.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	APIKey     string
	GenModel   string
	EmbedModel string
	Dimensions int
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

type Client struct {
	api        *openai.Client
	genModel   string
	embedModel string
	dimensions int
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		genModel:   cfg.GenModel,
		embedModel: cfg.EmbedModel,
		dimensions: cfg.Dimensions,
		executor:   cfg.Executor,
	}
}

func (c *Client) Name() string  { return "openai-compatible" }
func (c *Client) Model() string { return c.genModel }

// Ping lists models, which every compatible server serves without cost.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return wrapTemporaryIfNeeded("openai list models", err)
	}
	return nil
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.genModel,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := resilience.Call(ctx, c.executor, "openai.chat", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, chatReq)
	}, classifyOpenAIError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	embedReq := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(c.embedModel),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		embedReq.Dimensions = c.dimensions
	}

	resp, err := resilience.Call(ctx, c.executor, "openai.embed", func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return c.api.CreateEmbeddings(ctx, embedReq)
	}, classifyOpenAIError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// classifyOpenAIError reads the status from go-openai's API and request errors.
var classifyOpenAIError = resilience.HTTPClassifier(func(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
})

func wrapTemporaryIfNeeded(operation string, err error) error {
	if wrapped := resilience.AsTemporary(operation, err, classifyOpenAIError); wrapped != err {
		return wrapped
	}
	return fmt.Errorf("%s: %w", operation, err)
}
