// Package errors defines the error taxonomy shared by every stage of an
// endpoint call: configuration, request encoding, transport, reading and
// remote (non-2xx) responses.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind categorizes client errors for handling decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Configuration covers malformed contracts, missing codecs and ambiguous adapters.
	Configuration
	// RequestEncoding covers failures serializing a body or form value.
	RequestEncoding
	// Transport covers connection, IO, timeout and cancellation failures.
	Transport
	// Read covers failures decoding a response body.
	Read
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case RequestEncoding:
		return "request_encoding"
	case Transport:
		return "transport"
	case Read:
		return "read"
	default:
		return "unknown"
	}
}

// TransportReason refines a Transport error.
type TransportReason int

const (
	ReasonUnknown TransportReason = iota
	ReasonNetwork
	ReasonTimeout
	ReasonCancelled
	ReasonRateLimited
)

func (r TransportReason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonTimeout:
		return "timeout"
	case ReasonCancelled:
		return "cancelled"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether transport failures with this reason may be retried.
func (r TransportReason) IsRetryable() bool {
	switch r {
	case ReasonNetwork, ReasonTimeout, ReasonRateLimited:
		return true
	default:
		return false
	}
}

// Error is a categorized client error.
type Error struct {
	Kind      Kind
	Reason    TransportReason
	Endpoint  string
	URL       string
	Operation string
	Message   string
	Cause     error
	Retryable bool
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration   = &Error{Kind: Configuration}
	ErrRequestEncoding = &Error{Kind: RequestEncoding}
	ErrTransport       = &Error{Kind: Transport}
	ErrRead            = &Error{Kind: Read}
)

// Error implements the error interface.
func (e *Error) Error() string {
	where := e.URL
	if where == "" {
		where = e.Endpoint
	}
	kind := e.Kind.String()
	if e.Kind == Transport && e.Reason != ReasonUnknown {
		kind = kind + "/" + e.Reason.String()
	}
	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(" error")
	if e.Operation != "" {
		b.WriteString(" during ")
		b.WriteString(e.Operation)
	}
	if where != "" {
		b.WriteString(" on ")
		b.WriteString(where)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind. A target carrying a transport reason
// only matches that reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Reason == ReasonUnknown || t.Reason == e.Reason
}

// NewError creates a new Error.
func NewError(kind Kind, endpoint, operation, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Endpoint:  endpoint,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(endpoint, message string) *Error {
	return NewError(Configuration, endpoint, "configure", message, nil)
}

// Configurationf creates a configuration error with a formatted message.
func Configurationf(endpoint, format string, args ...any) *Error {
	return NewConfigurationError(endpoint, fmt.Sprintf(format, args...))
}

// NewRequestEncodingError creates a request encoding error.
func NewRequestEncodingError(endpoint, operation string, cause error) *Error {
	return NewError(RequestEncoding, endpoint, operation, "encoding failed", cause)
}

// NewReadError creates a response read error.
func NewReadError(endpoint, url string, cause error) *Error {
	err := NewError(Read, endpoint, "read", "decoding failed", cause)
	err.URL = url
	return err
}

// NewTransportError creates a transport error with the given reason.
func NewTransportError(url string, reason TransportReason, message string, cause error) *Error {
	return &Error{
		Kind:      Transport,
		Reason:    reason,
		URL:       url,
		Operation: "exchange",
		Message:   message,
		Cause:     cause,
		Retryable: reason.IsRetryable(),
	}
}

// NewNetworkError creates a network transport error.
func NewNetworkError(url string, cause error) *Error {
	return NewTransportError(url, ReasonNetwork, "network failure", cause)
}

// NewTimeoutError creates a timeout transport error.
func NewTimeoutError(url string, cause error) *Error {
	return NewTransportError(url, ReasonTimeout, "request timed out", cause)
}

// NewCancelledError creates a cancellation transport error.
func NewCancelledError(url string, cause error) *Error {
	return NewTransportError(url, ReasonCancelled, "request cancelled", cause)
}

// Categorize wraps a transport failure as a Transport error. Errors that are
// already categorized, including remote response errors, pass through.
func Categorize(err error, url string) error {
	if err == nil {
		return nil
	}

	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr
	}
	var remoteErr *RemoteResponseError
	if errors.As(err, &remoteErr) {
		return remoteErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, err)
	}

	if isTimeout(err) {
		return NewTimeoutError(url, err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, err)
	}

	return NewTransportError(url, ReasonUnknown, err.Error(), err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable checks if an error should be retried by a transport decorator.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// GetKind extracts the error kind from an error.
func GetKind(err error) Kind {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind
	}
	return Unknown
}

// GetReason extracts the transport reason from an error.
func GetReason(err error) TransportReason {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Reason
	}
	return ReasonUnknown
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return GetKind(err) == Configuration
}
