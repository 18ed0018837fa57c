package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ValidationError reports a required input field that was missing or empty,
// or present but unusable (Reason set). It is raised before any cache or
// network access happens.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing or empty required field: %s", e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthenticationError reports that no usable bearer token could be obtained:
// the token endpoint was unreachable, rejected the credentials, or answered
// with a malformed token document.
type AuthenticationError struct {
	// Grant is the last grant type attempted ("password" or "refresh_token").
	Grant string
	// StatusCode is the token endpoint HTTP status, zero when no response arrived.
	StatusCode int
	// Detail is the upstream error detail kept for logging.
	Detail string
	Err    error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed"
	if e.Grant != "" {
		msg += " (" + e.Grant + " grant)"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NetworkError reports a transport-level failure (timeout, refused
// connection, reset) talking to the token endpoint or the upstream API.
type NetworkError struct {
	Op      string
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	kind := "network error"
	if e.Timeout {
		kind = "network timeout"
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s %s: %v", kind, e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps a failed round trip. Deadline and net timeouts set
// Timeout.
func NewNetworkError(op string, target string, err error) *NetworkError {
	ne := &NetworkError{Op: op, URL: target, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		ne.Timeout = true
	}
	return ne
}

// IsTransport reports whether err came out of an HTTP round trip rather than
// from a response that arrived.
func IsTransport(err error) bool {
	var (
		urlErr *url.Error
		netErr net.Error
	)
	return errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// UpstreamError reports a non-2xx upstream answer (other than a first 401,
// which is retried) or a body that is not valid JSON.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream error (%d): %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Kind names the taxonomy class of err, "internal" when it is none of them.
func Kind(err error) string {
	var (
		ve *ValidationError
		ae *AuthenticationError
		ne *NetworkError
		ue *UpstreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "authentication"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &ue):
		return "upstream"
	default:
		return "internal"
	}
}
