package qdrant

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

// Client queries a pre-built Qdrant collection over REST. The router never writes to it.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL, collection string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func (c *Client) Query(ctx context.Context, vector []float32, limit int) ([]domain.ScoredDocument, error) {
	if limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.call(ctx, "vector.search", http.MethodPost, path, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredDocument, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "doc_id")
		if id == "" {
			id = fmt.Sprintf("%v", r.ID)
		}
		out = append(out, domain.ScoredDocument{
			Document: domain.IndexedDocument{
				ID:        id,
				Vector:    r.Vector,
				Text:      getStringPayload(r.Payload, "text"),
				SourceRef: getStringPayload(r.Payload, "source"),
				Metadata:  metadataPayload(r.Payload),
			},
			Score: r.Score,
		})
	}
	return out, nil
}

// Dimension reads the configured vector size of the collection. A missing collection is a configuration fault.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	var infoResp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := c.call(ctx, "vector.collection_info", http.MethodGet, "/collections/"+c.collection, nil, &infoResp)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return 0, domain.WrapError(domain.ErrConfiguration, "qdrant collection info",
				fmt.Errorf("collection %q does not exist", c.collection))
		}
		return 0, err
	}
	if infoResp.Result.Config.Params.Vectors.Size <= 0 {
		return 0, domain.WrapError(domain.ErrConfiguration, "qdrant collection info",
			fmt.Errorf("collection %q has no single unnamed vector config", c.collection))
	}
	return infoResp.Result.Config.Params.Vectors.Size, nil
}

func (c *Client) Name() string { return "qdrant" }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Dimension(ctx)
	return err
}

func (c *Client) call(ctx context.Context, operation, method, path string, payload any, out any) error {
	err := c.executor.Execute(ctx, operation, func(attemptCtx context.Context) error {
		return c.do(attemptCtx, operation, method, path, payload, out)
	}, classifyQdrantError)
	return resilience.AsTemporary(operation, err, classifyQdrantError)
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

var classifyQdrantError = resilience.HTTPClassifier(func(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
})

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func metadataPayload(payload map[string]any) map[string]string {
	raw, ok := payload["metadata"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k := range raw {
		out[k] = getStringPayload(raw, k)
	}
	return out
}
