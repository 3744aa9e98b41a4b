package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusReason is the status bucket a remote response error falls into.
type StatusReason int

const (
	UnhandledStatus StatusReason = iota
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	MethodNotAllowed
	NotAcceptable
	ProxyAuthenticationRequired
	RequestTimeout
	Conflict
	Gone
	LengthRequired
	PreconditionFailed
	RequestEntityTooLarge
	RequestURITooLong
	UnsupportedMediaType
	RequestedRangeNotSatisfiable
	ExpectationFailed
	InternalServerError
	NotImplemented
	BadGateway
	ServiceUnavailable
	GatewayTimeout
	HTTPVersionNotSupported
)

var statusReasons = map[int]StatusReason{
	http.StatusBadRequest:                   BadRequest,
	http.StatusUnauthorized:                 Unauthorized,
	http.StatusForbidden:                    Forbidden,
	http.StatusNotFound:                     NotFound,
	http.StatusMethodNotAllowed:             MethodNotAllowed,
	http.StatusNotAcceptable:                NotAcceptable,
	http.StatusProxyAuthRequired:            ProxyAuthenticationRequired,
	http.StatusRequestTimeout:               RequestTimeout,
	http.StatusConflict:                     Conflict,
	http.StatusGone:                         Gone,
	http.StatusLengthRequired:               LengthRequired,
	http.StatusPreconditionFailed:           PreconditionFailed,
	http.StatusRequestEntityTooLarge:        RequestEntityTooLarge,
	http.StatusRequestURITooLong:            RequestURITooLong,
	http.StatusUnsupportedMediaType:         UnsupportedMediaType,
	http.StatusRequestedRangeNotSatisfiable: RequestedRangeNotSatisfiable,
	http.StatusExpectationFailed:            ExpectationFailed,
	http.StatusInternalServerError:          InternalServerError,
	http.StatusNotImplemented:               NotImplemented,
	http.StatusBadGateway:                   BadGateway,
	http.StatusServiceUnavailable:           ServiceUnavailable,
	http.StatusGatewayTimeout:               GatewayTimeout,
	http.StatusHTTPVersionNotSupported:      HTTPVersionNotSupported,
}

var statusReasonNames = map[StatusReason]string{
	UnhandledStatus:              "UnhandledStatus",
	BadRequest:                   "BadRequest",
	Unauthorized:                 "Unauthorized",
	Forbidden:                    "Forbidden",
	NotFound:                     "NotFound",
	MethodNotAllowed:             "MethodNotAllowed",
	NotAcceptable:                "NotAcceptable",
	ProxyAuthenticationRequired:  "ProxyAuthenticationRequired",
	RequestTimeout:               "RequestTimeout",
	Conflict:                     "Conflict",
	Gone:                         "Gone",
	LengthRequired:               "LengthRequired",
	PreconditionFailed:           "PreconditionFailed",
	RequestEntityTooLarge:        "RequestEntityTooLarge",
	RequestURITooLong:            "RequestURITooLong",
	UnsupportedMediaType:         "UnsupportedMediaType",
	RequestedRangeNotSatisfiable: "RequestedRangeNotSatisfiable",
	ExpectationFailed:            "ExpectationFailed",
	InternalServerError:          "InternalServerError",
	NotImplemented:               "NotImplemented",
	BadGateway:                   "BadGateway",
	ServiceUnavailable:           "ServiceUnavailable",
	GatewayTimeout:               "GatewayTimeout",
	HTTPVersionNotSupported:      "HTTPVersionNotSupported",
}

func (r StatusReason) String() string {
	if name, ok := statusReasonNames[r]; ok {
		return name
	}
	return "UnhandledStatus"
}

// ReasonFor returns the status bucket for an HTTP status code.
func ReasonFor(statusCode int) StatusReason {
	if r, ok := statusReasons[statusCode]; ok {
		return r
	}
	return UnhandledStatus
}

// RemoteResponseError is returned for every non-2xx response. Body holds the
// response payload read as text on a best-effort basis.
type RemoteResponseError struct {
	StatusCode int
	Header     http.Header
	Body       string
	Endpoint   string
	URL        string
}

// NewRemoteResponseError creates a remote response error.
func NewRemoteResponseError(endpoint, url string, statusCode int, header http.Header, body string) *RemoteResponseError {
	if header == nil {
		header = http.Header{}
	}
	return &RemoteResponseError{
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
		Endpoint:   endpoint,
		URL:        url,
	}
}

// Error implements the error interface.
func (e *RemoteResponseError) Error() string {
	where := e.URL
	if where == "" {
		where = e.Endpoint
	}
	msg := fmt.Sprintf("remote error on %s: %d %s", where, e.StatusCode, e.Reason())
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Reason returns the status bucket of the response.
func (e *RemoteResponseError) Reason() StatusReason {
	return ReasonFor(e.StatusCode)
}

// IsClientError reports a 4xx status.
func (e *RemoteResponseError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports a 5xx status.
func (e *RemoteResponseError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// Is matches any remote response error when the target has no status code,
// otherwise errors of the same status bucket.
func (e *RemoteResponseError) Is(target error) bool {
	t, ok := target.(*RemoteResponseError)
	if !ok {
		return false
	}
	if t.StatusCode == 0 {
		return true
	}
	return t.Reason() == e.Reason() && (t.Reason() != UnhandledStatus || t.StatusCode == e.StatusCode)
}

// ErrRemote matches every remote response error with errors.Is.
var ErrRemote = &RemoteResponseError{}

// StatusCode extracts the HTTP status code from a remote response error.
func StatusCode(err error) int {
	var remoteErr *RemoteResponseError
	if errors.As(err, &remoteErr) {
		return remoteErr.StatusCode
	}
	return 0
}

// AsRemote returns the remote response error wrapped in err, if any.
func AsRemote(err error) (*RemoteResponseError, bool) {
	var remoteErr *RemoteResponseError
	ok := errors.As(err, &remoteErr)
	return remoteErr, ok
}
