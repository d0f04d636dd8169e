package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/command-router/internal/core/domain"
)

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ContextVerdict settles the errors every classifier shares. Caller cancellation neither retries
// nor trips; an open breaker elsewhere is transient.
func ContextVerdict(err error) (Verdict, bool) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Benign, true
	case IsCircuitOpen(err):
		return Transient, true
	}
	return Verdict{}, false
}

// StatusVerdict classifies a collaborator's HTTP answer. Other 4xx answers blame the request,
// so they neither retry nor trip.
func StatusVerdict(code int) Verdict {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Transient
	case code >= 500 && code != http.StatusNotImplemented:
		return Transient
	case code >= 500:
		return Permanent
	}
	return Benign
}

// HTTPClassifier is the classifier of a JSON-over-HTTP collaborator. statusOf extracts the
// response status carried by err, if there is one.
func HTTPClassifier(statusOf func(error) (int, bool)) Classifier {
	return func(err error) Verdict {
		if v, ok := ContextVerdict(err); ok {
			return v
		}
		if code, ok := statusOf(err); ok {
			return StatusVerdict(code)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return Transient
		}
		return Permanent
	}
}

// AsTemporary marks err as domain.ErrTemporary when classify says a later attempt may succeed or
// the breaker is open. Other errors pass through.
func AsTemporary(op string, err error, classify Classifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if IsCircuitOpen(err) || (classify != nil && classify(err).Retry) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}
