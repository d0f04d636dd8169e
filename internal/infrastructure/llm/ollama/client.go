// Package ollama calls a local Ollama server for generation and embeddings.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	keepAlive  string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout time.Duration
	// KeepAlive is passed to Ollama so models stay loaded between commands, e.g. "10m".
	KeepAlive string
	Executor  *resilience.Executor
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		keepAlive:  opts.KeepAlive,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

func (c *Client) Name() string { return "ollama" }

// Ping checks that the server answers and has the generation model pulled.
func (c *Client) Ping(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.roundTrip(ctx, "ollama.tags", "/api/tags", nil, &tags); err != nil {
		return err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, strings.TrimSuffix(m.Name, ":latest"))
	}
	if !slices.Contains(names, strings.TrimSuffix(c.genModel, ":latest")) {
		return domain.WrapError(domain.ErrConfiguration, "ollama ping",
			fmt.Errorf("model %q is not pulled (have %s)", c.genModel, strings.Join(names, ", ")))
	}
	return nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := embedRequest{Model: e.client.embedModel, Input: texts, KeepAlive: e.client.keepAlive}

	var resp embedResponse
	if err := e.client.roundTrip(ctx, "ollama.embed", "/api/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type generateRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Prompt    string          `json:"prompt"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Model() string { return g.client.genModel }

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body := generateRequest{
		Model:     g.client.genModel,
		System:    strings.TrimSpace(req.System),
		Prompt:    req.Prompt,
		KeepAlive: g.client.keepAlive,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var resp struct {
		Response string `json:"response"`
	}
	if err := g.client.roundTrip(ctx, "ollama.generate", "/api/generate", body, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}
