package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ConnectionError means the backend could not be reached at all.
type ConnectionError struct {
	URL   string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TimeoutError means a single outbound call exceeded the configured timeout.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
	}
	return fmt.Sprintf("request to %s timed out", e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Body)
}

// MalformedResponseError is a 2xx answer whose body could not be decoded.
type MalformedResponseError struct {
	URL   string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Cause)
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// Kind names the class of err for the errors_total metric label.
func Kind(err error) string {
	var (
		connErr   *ConnectionError
		toErr     *TimeoutError
		statusErr *StatusError
		malErr    *MalformedResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.As(err, &toErr):
		return "TimeoutError"
	case errors.As(err, &connErr):
		return "ConnectionError"
	case errors.As(err, &statusErr):
		return "StatusError"
	case errors.As(err, &malErr):
		return "MalformedResponseError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	default:
		return "Error"
	}
}

// IsRetryable reports whether err is worth another attempt: transport failures,
// timeouts, malformed bodies, 5xx and 429. The gateway does not install it by
// default; see retry.WithClassifier.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	return !errors.Is(err, context.Canceled)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

func classifyTransport(url string, timeout time.Duration, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: url, Timeout: timeout, Cause: err}
	}
	return &ConnectionError{URL: url, Cause: err}
}
