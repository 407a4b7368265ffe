// Package httpclient performs single upstream HTTP attempts and provides the
// capped exponential retry loop used around them.
package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// RateLimitInfo is what an upstream reported about its own limits.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser extracts RateLimitInfo from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// Client performs one HTTP attempt per Do call. Retries are the caller's
// decision, see Retry.
type Client struct {
	client       *http.Client
	headerParser RateLimitHeaderParser
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		headerParser: ParseRetryAfterHeader,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do sends req once. A 2xx response is returned as is. Any other status
// is drained, closed and returned as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}

	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: info.RetryAfter,
		Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
	}
}

// IsRetryableStatus reports whether a status is worth retrying: request
// timeouts, rate limiting and server errors.
func IsRetryableStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return true
	default:
		return false
	}
}
