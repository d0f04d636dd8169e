package usecase

import "log/slog"

// withFallback runs primary and, on any error, returns secondary's result. Both closures capture their own
// arguments so the two paths never share a call signature.
func withFallback[T any](operation string, primary func() (T, error), secondary func() T) T {
	v, err := primary()
	if err == nil {
		return v
	}
	slog.Warn("fallback_engaged", "operation", operation, "error", err)
	return secondary()
}
