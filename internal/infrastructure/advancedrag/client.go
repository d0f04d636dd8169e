// Package advancedrag calls an optional external retrieval service that answers queries with its own pipeline.
package advancedrag

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

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type answerResponse struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("advanced rag status: %s: %s", e.status, strings.TrimSpace(e.body))
}

// Answer returns an error for anything short of a non-empty answer, so the caller can fall back.
func (c *Client) Answer(ctx context.Context, query string) (domain.Answer, error) {
	resp, err := resilience.Call(ctx, c.executor, "advanced_rag.answer", func(ctx context.Context) (answerResponse, error) {
		return c.post(ctx, query)
	}, classifyError)
	if err != nil {
		return domain.Answer{}, domain.WrapError(domain.ErrRetrievalFailure, "advanced rag", err)
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return domain.Answer{}, domain.WrapError(domain.ErrRetrievalFailure, "advanced rag", errors.New("empty answer"))
	}
	return domain.Answer{Text: resp.Answer, Code: domain.CodeOK, Citations: resp.Citations}, nil
}

func (c *Client) post(ctx context.Context, query string) (answerResponse, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return answerResponse{}, fmt.Errorf("marshal advanced rag request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/answer", bytes.NewReader(body))
	if err != nil {
		return answerResponse{}, fmt.Errorf("create advanced rag request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return answerResponse{}, fmt.Errorf("advanced rag request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return answerResponse{}, &statusError{code: res.StatusCode, status: res.Status, body: string(raw)}
	}
	var out answerResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return answerResponse{}, fmt.Errorf("decode advanced rag response: %w", err)
	}
	return out, nil
}

var classifyError = resilience.HTTPClassifier(func(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, true
	}
	return 0, false
})
