package httpadapter

import (
	"bufio"
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const requestIDHeader = "X-Request-Id"

type requestIDContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		logAttrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", clientID(r),
			"user_agent", r.UserAgent(),
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", logAttrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", logAttrs...)
		default:
			slog.Info("http_request", logAttrs...)
		}
	})
}

// recoverMiddleware turns a handler panic into a JSON 500 instead of a dropped connection.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				slog.Error("panic_recovered",
					"request_id", requestIDFromContext(r.Context()),
					"panic", fmt.Sprint(rvr),
					"stack", string(debug.Stack()),
				)
				writeAnswer(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientID is the peer host. With proxy headers trusted, chi's RealIP has already rewritten RemoteAddr.
func clientID(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (rt *Router) authMiddleware(next http.Handler) http.Handler {
	header := rt.opts.AuthHeader
	secret := []byte(rt.opts.SharedSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(header)
		if provided == "" {
			rt.reject(w, r, "auth", http.StatusUnauthorized, "unauthorized: missing "+header+" header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), secret) != 1 {
			rt.reject(w, r, "auth", http.StatusUnauthorized, "unauthorized: shared secret does not match")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware charges one token per authenticated request against the bucket named after the route.
// A limiter failure lets the request through.
func (rt *Router) rateLimitMiddleware(route string) func(http.Handler) http.Handler {
	bucket := strings.TrimPrefix(route, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rt.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			decision, err := rt.limiter.Allow(r.Context(), clientID(r), bucket)
			if err != nil {
				slog.Warn("rate_limiter_failed", "route", route, "request_id", requestIDFromContext(r.Context()), "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				retry := retryAfterSeconds(decision.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				rt.reject(w, r, "rate_limit", http.StatusTooManyRequests,
					fmt.Sprintf("rate limit exceeded for %s (%d per window); retry in %ds", route, decision.Limit, retry))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// backpressureMiddleware bounds concurrent requests; a request waits at most wait for a slot, then gets 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
		default:
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case slots <- struct{}{}:
			case <-timer.C:
				w.Header().Set("Retry-After", "1")
				writeAnswer(w, http.StatusServiceUnavailable, "server is busy, retry shortly")
				return
			case <-r.Context().Done():
				return
			}
		}
		defer func() { <-slots }()
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) reject(w http.ResponseWriter, r *http.Request, gate string, status int, message string) {
	if rt.metrics != nil {
		rt.metrics.RecordGateRejection(gate, routeLabel(r))
	}
	writeAnswer(w, status, message)
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func mapErrorToCode(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return domain.CodeBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrToolFailure):
		return domain.CodeToolFailure
	case domain.IsKind(err, domain.ErrRetrievalFailure), domain.IsKind(err, domain.ErrTemporary):
		return domain.CodeRetrievalFailure
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
