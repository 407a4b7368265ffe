package llms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// APIError is an error response from an upstream model API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Type       string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s API error (HTTP %d, %s): %s", e.Provider, e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Class groups upstream failures by how the caller should react.
type Class int

const (
	// ClassNone is a nil error.
	ClassNone Class = iota
	// ClassAuth is a rejected credential (401, 403). Never retried.
	ClassAuth
	// ClassNotFound is an unknown endpoint or model (404). Never retried.
	ClassNotFound
	// ClassTransient covers 408, 429, 5xx, timeouts and network errors.
	ClassTransient
	// ClassInvalid is any other 4xx: the upstream rejected the request.
	ClassInvalid
	// ClassCanceled means the caller gave up.
	ClassCanceled
	// ClassMalformed is a failure a retry cannot fix: an undecodable or
	// empty response, or a request that could not be built. Never retried.
	ClassMalformed
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassAuth:
		return "auth"
	case ClassNotFound:
		return "not_found"
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassCanceled:
		return "canceled"
	case ClassMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ErrEmptyCompletion is returned when the upstream answered without text.
var ErrEmptyCompletion = errors.New("upstream returned no completion")

// Classify sorts an attempt error. Per-attempt deadlines and connection
// failures count as transient; cancellation of the caller's context does
// not. Anything unrecognised is ClassMalformed.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ClassTransient
	}

	// url.Parse failures also satisfy net.Error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ClassMalformed
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassMalformed
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassInvalid
	default:
		return ClassTransient
	}
}

// RetryAfter returns the delay the upstream asked for, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// Retryable adapts Classify to httpclient.Retry.
func Retryable(err error) (bool, time.Duration) {
	return Classify(err) == ClassTransient, RetryAfter(err)
}
