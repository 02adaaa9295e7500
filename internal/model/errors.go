package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies an inference call failure for retry decisions.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindTimeout is a request deadline or network timeout.
	KindTimeout
	// KindConnection is a transport-level failure.
	KindConnection
	// KindRateLimited is an HTTP 429 from the endpoint.
	KindRateLimited
	// KindServer is an HTTP 5xx from the endpoint.
	KindServer
	// KindClient is an HTTP 4xx other than 429. Not retryable.
	KindClient
	// KindEmptyResponse is a well-formed response with no content.
	KindEmptyResponse
	// KindMalformedResponse is a response body that failed to parse.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindEmptyResponse:
		return "empty_response"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// CallError is a classified inference call failure.
type CallError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model call failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("model call failed (%s): %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Patterns that indicate a transient transport problem when the error is
// not already classified.
var retryablePatterns = []string{
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"i/o timeout",
	"unexpected eof",
}

// Retryable reports whether a failed call is worth retrying. Client errors
// and output-budget exhaustion never are; another identical request would
// fail the same way.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		switch callErr.Kind {
		case KindTimeout, KindConnection, KindRateLimited, KindServer, KindEmptyResponse:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "reasoning token limit") {
		return false
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
