package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrTransient   = errors.New("transient failure")
	ErrThrottled   = errors.New("throttled")
	ErrUnavailable = errors.New("dependency unavailable")
	ErrFatal       = errors.New("fatal error")
)

// Kind names an error class in the taxonomy used across the pipeline.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindTransient   Kind = "transient"
	KindThrottled   Kind = "throttled"
	KindUnavailable Kind = "dependency_unavailable"
	KindFatal       Kind = "fatal"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its taxonomy kind. Unmarked errors are treated as
// fatal so unexpected failures never loop through the retry executor.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrThrottled):
		return KindThrottled
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindFatal
	}
}

// IsRetryable reports whether the retry executor should attempt the operation
// again. Throttled errors are retryable: the limiter asks callers to back off
// rather than fail.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindThrottled:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether a failure should advance a circuit
// breaker toward open. Validation errors reflect bad input, not dependency
// health, and must not trip the breaker.
func CountsTowardBreaker(err error) bool {
	switch Classify(err) {
	case KindTransient, KindThrottled, KindFatal:
		return true
	default:
		return false
	}
}

// Message extracts the human-readable portion of a wrapped error, stripping
// the sentinel prefix so raw collaborator internals are not surfaced verbatim.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	for _, marker := range []error{ErrValidation, ErrTransient, ErrThrottled, ErrUnavailable, ErrFatal} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return strings.TrimSpace(text)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
