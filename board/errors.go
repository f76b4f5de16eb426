package board

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorClass represents whether a failed fetch is expected to succeed later.
type ErrorClass int

const (
	// ErrorClassRetryable covers transient failures (network, 5xx, rate limiting).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers failures that will not clear up on their own
	// (thread dropped, unsupported URL).
	ErrorClassFatal
	// ErrorClassUnknown is anything else; the poller keeps retrying it.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrUnsupportedURL is returned for URLs no board format recognizes.
var ErrUnsupportedURL = errors.New("unsupported thread url")

// FetchError is a non-2xx response from a board.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ClassifyFetchError classifies a board fetch error into retryable vs fatal.
//
// Fatal: 404/410 (dat dropped or thread gone), 401/403, unsupported URL.
// Retryable: 5xx, 429, timeouts, connection failures.
// Everything else is unknown and treated as retryable by the poller.
func ClassifyFetchError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, ErrUnsupportedURL) {
		return ErrorClassFatal
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		switch {
		case fe.StatusCode == http.StatusNotFound, fe.StatusCode == http.StatusGone,
			fe.StatusCode == http.StatusUnauthorized, fe.StatusCode == http.StatusForbidden:
			return ErrorClassFatal
		case fe.StatusCode == http.StatusTooManyRequests, fe.StatusCode >= 500:
			return ErrorClassRetryable
		default:
			return ErrorClassUnknown
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "connection reset", "no such host", "timeout", "eof", "broken pipe"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	return ErrorClassUnknown
}

// IsFatalError reports whether retrying err is pointless.
func IsFatalError(err error) bool {
	return ClassifyFetchError(err) == ErrorClassFatal
}
