package converter

import (
	"errors"
	"fmt"
)

// Kind classifies conversion failures.
type Kind string

const (
	// KindValidation is bad input, or a request the upstream rejected.
	KindValidation Kind = "validation_error"
	// KindQuotaExceeded means the daily gate is closed.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindRateLimited means a sliding window is full.
	KindRateLimited Kind = "rate_limited"
	// KindUpstreamAuth is a rejected credential. Reconfigure, do not retry.
	KindUpstreamAuth Kind = "upstream_auth_error"
	// KindUpstreamNotFound is an unknown endpoint or model.
	KindUpstreamNotFound Kind = "upstream_not_found"
	// KindUpstreamTransient is a timeout, 429, 5xx or network failure that
	// outlasted the retry budget.
	KindUpstreamTransient Kind = "upstream_transient"
	// KindStorage is a store failure. Convert logs these and carries on.
	KindStorage Kind = "storage_error"
)

// Error is the typed failure returned by Convert.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfterSeconds is set for KindRateLimited and, when the upstream
	// said so, KindUpstreamTransient.
	RetryAfterSeconds int64

	// Attempts is the number of upstream calls made.
	Attempts int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterSeconds returns the suggested wait carried by err, if any.
func RetryAfterSeconds(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfterSeconds
	}
	return 0
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}
