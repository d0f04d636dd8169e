package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/run", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while saturated, got %d", res.Code)
	}

	close(release)
	if code := <-done; code != http.StatusNoContent {
		t.Fatalf("first request expected 204, got %d", code)
	}
}

func TestBackpressureMiddlewareDisabledPassesThrough(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 0, time.Millisecond)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/run", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected passthrough, got %d", res.Code)
	}
}

func TestRecoverMiddlewareWritesJSON500(t *testing.T) {
	handler := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if got := decodeRun(t, res); got.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestRequestIDMiddlewareKeepsIncomingID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "req-42" || res.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("expected request id to be propagated, got %q / %q", seen, res.Header().Get(requestIDHeader))
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		1001 * time.Millisecond: 2,
		42 * time.Second:        42,
	}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %d, want %d", in, got, want)
		}
	}
}
