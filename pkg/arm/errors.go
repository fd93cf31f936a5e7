package arm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass classifies a remote-call failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient covers network failures and 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled covers 429 responses; retried with the
	// server-supplied hint when one is present.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassNotFound covers 404 responses.
	ErrorClassNotFound ErrorClass = "notfound"

	// ErrorClassPermanent covers auth failures and bad requests.
	ErrorClassPermanent ErrorClass = "permanent"
)

// RequestError is a classified ARM request failure.
type RequestError struct {
	Class      ErrorClass
	StatusCode int
	Operation  string
	URL        string
	Message    string
	Err        error

	// retryAfter is the server-supplied delay hint on throttled responses.
	retryAfter time.Duration
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s: HTTP %d: %s", e.Class, e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Operation, e.unwrapMessage())
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) unwrapMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "request failed"
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class == ErrorClassTransient || reqErr.Class == ErrorClassThrottled
	}
	return false
}

// IsNotFound reports whether the error is a 404 for the requested object.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Class == ErrorClassNotFound
}

// IsThrottled reports whether the error is a rate-limit response.
func IsThrottled(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Class == ErrorClassThrottled
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassThrottled
	case status == 404:
		return ErrorClassNotFound
	case status >= 500:
		return ErrorClassTransient
	default:
		return ErrorClassPermanent
	}
}
