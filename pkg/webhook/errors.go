package webhook

import "errors"

var (
	ErrNotFound      = errors.New("webhook: event not found")
	ErrInvalidInput  = errors.New("webhook: invalid ingest input")
	ErrEventFailed   = errors.New("webhook: event handler failed")

	// ErrRetryable marks handler failures caused by transient conditions
	// (database contention, collaborator timeouts). The HTTP boundary maps it
	// to a 5xx so the gateway redelivers; anything else is recorded as a
	// terminal failure and answered with a 2xx.
	ErrRetryable = errors.New("webhook: retryable failure")
)

// Retryable wraps err so the boundary schedules a redelivery.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrRetryable, err)
}

// IsRetryable reports whether the error chain carries ErrRetryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
