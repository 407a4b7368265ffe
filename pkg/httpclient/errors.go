package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d (retry after %v)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) IsRetryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// AsStatusError returns the StatusError in err's chain, if any.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
