package httpexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
)

func TestExecutePostsToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			http.NotFound(w, r)
			return
		}
		var call domain.ToolCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if call.Tool != "launch_app" || call.Arguments["app"] != "obs" {
			t.Fatalf("unexpected call: %+v", call)
		}
		_, _ = w.Write([]byte(`{"content":"launched obs"}`))
	}))
	defer server.Close()

	res, err := New(server.URL, Options{}).Execute(context.Background(), domain.ToolCall{
		Tool:      "launch_app",
		Arguments: map[string]string{"app": "obs"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Content != "launched obs" {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestExecuteWrapsServiceErrorAsToolFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"git not installed"}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}})
	_, err := New(server.URL, Options{Executor: exec}).Execute(context.Background(), domain.ToolCall{Tool: "git_status"})
	if !domain.IsKind(err, domain.ErrToolFailure) {
		t.Fatalf("expected tool failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "git not installed") {
		t.Fatalf("expected service message in error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected side-effecting call not to be retried, got %d calls", got)
	}
}

func TestExecuteHonoursTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(server.URL, Options{}).Execute(ctx, domain.ToolCall{Tool: "system_info"})
	if !domain.IsKind(err, domain.ErrToolFailure) {
		t.Fatalf("expected tool failure on timeout, got %v", err)
	}
}

func TestPingUsesHealthEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, Options{}).Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
