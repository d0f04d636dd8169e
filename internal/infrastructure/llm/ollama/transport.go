package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the Ollama API. Body holds the start of the error text
// Ollama sends back, e.g. "model not found".
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("ollama %s: HTTP %d", e.Endpoint, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

var classifyError = resilience.HTTPClassifier(func(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
})

// roundTrip sends one JSON request to endpoint through the executor and decodes the answer into out.
// A nil payload sends a GET.
func (c *Client) roundTrip(ctx context.Context, operation, endpoint string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s: %w", operation, err)
		}
	}

	err := c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		return c.send(ctx, endpoint, body, out)
	}, classifyError)
	return resilience.AsTemporary(operation, err, classifyError)
}

func (c *Client) send(ctx context.Context, endpoint string, body []byte, out any) error {
	method, reader := http.MethodGet, io.Reader(nil)
	if body != nil {
		method, reader = http.MethodPost, bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama %s: decode: %w", endpoint, err)
	}
	return nil
}
