package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrToolFailure       = errors.New("tool failure")
	ErrPolicyDenied      = errors.New("policy denied")
	ErrRetrievalFailure  = errors.New("retrieval failure")
	ErrConfiguration     = errors.New("configuration fault")
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrConfiguration)
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
