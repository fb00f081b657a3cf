package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Request is one completion call against a model. Images, when present, are
// raw encoded image bytes; clients base64 them on the wire.
type Request struct {
	Prompt      string
	Images      [][]byte
	MaxTokens   int
	Temperature float64
}

// Response is the raw model reply. Parsing it is the caller's problem.
type Response struct {
	Content string
	Model   string
}

// Client is the uniform capability both model backends implement. Complete
// must return a TransientError or PermanentError for HTTP/timeout-class
// failures so callers can classify without knowing the backend.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// TransientError marks a failure worth retrying: timeouts, rate limits,
// upstream 5xx, connection problems.
type TransientError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transient provider error: %s", e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: bad credentials,
// rejected requests, any other 4xx.
type PermanentError struct {
	Status  int
	Message string
	Err     error
}

func (e *PermanentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("permanent provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("permanent provider error: %s", e.Message)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable: an explicit TransientError,
// a context deadline, or a network-level failure.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyStatus converts a non-2xx HTTP status into the matching error.
// 408, 429 and every 5xx are transient; every other 4xx is permanent.
func classifyStatus(status int, body string) error {
	if status == 408 || status == 429 || status >= 500 {
		return &TransientError{Status: status, Message: body}
	}
	return &PermanentError{Status: status, Message: body}
}

// classifyTransport wraps a round-trip failure. Timeouts and connection
// errors are transient; anything else is reported as transient too, since a
// request that never reached the upstream is always worth retrying.
func classifyTransport(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &TransientError{Message: ue.Err.Error(), Err: err}
	}
	return &TransientError{Message: err.Error(), Err: err}
}
