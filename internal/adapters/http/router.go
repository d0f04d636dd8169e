package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
	"github.com/kirillkom/command-router/internal/observability/metrics"
)

const (
	routeRun   = "/run"
	routeBatch = "/batch"
)

type RouterOptions struct {
	AuthHeader        string
	SharedSecret      string
	TrustProxyHeaders bool
	MaxInFlight       int
	BackpressureWait  time.Duration
	CommandMaxChars   int
	BatchMaxCommands  int
	BatchConcurrency  int

	// BatchTimeout bounds a whole /batch request; items still pending then answer 503.
	BatchTimeout time.Duration
	CacheEnabled bool
	Now          func() time.Time
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.AuthHeader == "" {
		o.AuthHeader = "X-Router-Secret"
	}
	if o.BackpressureWait <= 0 {
		o.BackpressureWait = 250 * time.Millisecond
	}
	if o.CommandMaxChars <= 0 {
		o.CommandMaxChars = 2000
	}
	if o.BatchMaxCommands <= 0 {
		o.BatchMaxCommands = 20
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 4
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 90 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Router struct {
	dispatcher ports.CommandDispatcher
	limiter    ports.RateLimiter
	metrics    *metrics.HTTPServerMetrics
	validator  *requestValidator
	opts       RouterOptions
}

func NewRouter(
	ctx context.Context,
	dispatcher ports.CommandDispatcher,
	limiter ports.RateLimiter,
	httpMetrics *metrics.HTTPServerMetrics,
	opts RouterOptions,
) (*Router, error) {
	validator, err := newRequestValidator(ctx)
	if err != nil {
		return nil, err
	}
	return &Router{
		dispatcher: dispatcher,
		limiter:    limiter,
		metrics:    httpMetrics,
		validator:  validator,
		opts:       opts.withDefaults(),
	}, nil
}

type runRequest struct {
	Command string `json:"command"`
}

type runResponse struct {
	Response string `json:"response"`
	Code     int    `json:"code"`
}

type batchRequest struct {
	Commands []json.RawMessage `json:"commands"`
}

type batchResult struct {
	Command  string `json:"command"`
	Response string `json:"response"`
	Code     int    `json:"code"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

// Handler assembles the gateway: unknown routes, then authentication, rate limiting and backpressure
// before any command reaches the dispatcher.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverMiddleware)
	if rt.opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	if rt.metrics != nil {
		r.Use(rt.metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.reject(w, r, "route", http.StatusNotFound, "not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.reject(w, r, "route", http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/health", rt.health)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(rt.authMiddleware)
		r.With(rt.rateLimitMiddleware(routeRun)).Post(routeRun, rt.backpressure(rt.run))
		r.With(rt.rateLimitMiddleware(routeBatch)).Post(routeBatch, rt.backpressure(rt.batch))
	})
	return r
}

func (rt *Router) backpressure(h http.HandlerFunc) http.HandlerFunc {
	return backpressureMiddleware(h, rt.opts.MaxInFlight, rt.opts.BackpressureWait).ServeHTTP
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"cacheEnabled": rt.opts.CacheEnabled,
	})
}

func (rt *Router) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !rt.decodeBody(w, r, routeRun, &req) {
		return
	}
	text, err := rt.checkCommand(req.Command)
	if err != nil {
		rt.reject(w, r, "validation", http.StatusBadRequest, err.Error())
		return
	}

	answer := rt.dispatcher.Dispatch(r.Context(), rt.command(clientID(r), text, routeRun))
	writeJSON(w, http.StatusOK, runResponse{Response: answer.Text, Code: answer.Code})
}

func (rt *Router) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !rt.decodeBody(w, r, routeBatch, &req) {
		return
	}
	if len(req.Commands) > rt.opts.BatchMaxCommands {
		rt.reject(w, r, "validation", http.StatusBadRequest,
			fmt.Sprintf("commands: at most %d commands per batch, got %d", rt.opts.BatchMaxCommands, len(req.Commands)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.opts.BatchTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make([]batchResult, len(req.Commands))
	finished := make([]bool, len(req.Commands))
	client := clientID(r)
	done := make(chan struct{})

	go func() {
		defer close(done)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rt.opts.BatchConcurrency)
		for i, raw := range req.Commands {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				res := rt.batchItem(gctx, client, raw)
				mu.Lock()
				results[i], finished[i] = res, true
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("batch_deadline_exceeded",
			"request_id", requestIDFromContext(r.Context()),
			"commands", len(req.Commands),
			"timeout_ms", rt.opts.BatchTimeout.Milliseconds(),
		)
	}

	mu.Lock()
	out := make([]batchResult, len(req.Commands))
	for i, raw := range req.Commands {
		if finished[i] {
			out[i] = results[i]
			continue
		}
		out[i] = batchResult{Command: itemText(raw), Response: "timed out", Code: domain.CodeRetrievalFailure}
	}
	mu.Unlock()

	writeJSON(w, http.StatusOK, batchResponse{Results: out})
}

func itemText(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) != nil {
		return string(raw)
	}
	return text
}

// batchItem never fails the batch: a malformed item or a panicking command yields its own result.
func (rt *Router) batchItem(ctx context.Context, client string, raw json.RawMessage) (result batchResult) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return batchResult{Command: string(raw), Response: "command must be a JSON string", Code: domain.CodeBadRequest}
	}
	result.Command = text

	defer func() {
		if rvr := recover(); rvr != nil {
			slog.Error("batch_item_panic",
				"request_id", requestIDFromContext(ctx),
				"panic", fmt.Sprint(rvr),
			)
			result.Response = "internal error"
			result.Code = http.StatusInternalServerError
		}
	}()

	checked, err := rt.checkCommand(text)
	if err != nil {
		result.Response = err.Error()
		result.Code = mapErrorToCode(err)
		return result
	}
	answer := rt.dispatcher.Dispatch(ctx, rt.command(client, checked, routeBatch))
	result.Response = answer.Text
	result.Code = answer.Code
	return result
}

func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, route string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := rt.validator.validate(r, route); err != nil {
		rt.reject(w, r, "validation", http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rt.reject(w, r, "validation", http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (rt *Router) checkCommand(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("%w: command must not be empty", domain.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(trimmed); n > rt.opts.CommandMaxChars {
		return "", fmt.Errorf("%w: command is %d characters, limit is %d", domain.ErrInvalidInput, n, rt.opts.CommandMaxChars)
	}
	return trimmed, nil
}

func (rt *Router) command(client, text, route string) domain.Command {
	return domain.Command{
		Text:       text,
		ClientID:   client,
		Route:      route,
		ReceivedAt: rt.opts.Now(),
	}
}

func writeAnswer(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, runResponse{Response: message, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write_json_failed", "status", status, "error", err)
	}
}
