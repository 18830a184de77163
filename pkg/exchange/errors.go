package exchange

import "errors"

// Failure taxonomy. Transient failures are retried with bounds; everything
// else is surfaced to the caller, which must leave local state unchanged
// rather than assume the venue acted.
var (
	// ErrDataUnavailable marks a missing or stale upstream reading; the
	// caller skips the cycle and retries next scheduled tick.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidPrice marks a non-positive reported price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrOrderRejected marks a venue rejection; no position may be assumed.
	ErrOrderRejected = errors.New("order rejected")

	// ErrConfiguration marks missing credentials or symbol metadata; fatal
	// at startup.
	ErrConfiguration = errors.New("configuration error")
)

// retryableError wraps transient venue failures so RetryPolicy can
// distinguish them from rejections.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// MarkRetryable tags err as transient.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err is worth another bounded attempt.
// Rejections and configuration errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrConfiguration) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return true
	}
	return errors.Is(err, ErrInvalidPrice) || errors.Is(err, ErrDataUnavailable)
}
