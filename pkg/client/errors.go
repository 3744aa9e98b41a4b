package client

import (
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/resilience"
)

// Error types returned by Invoke and Call.
type (
	Error               = errors.Error
	Kind                = errors.Kind
	TransportReason     = errors.TransportReason
	RemoteResponseError = errors.RemoteResponseError
	StatusReason        = errors.StatusReason
	CircuitOpenError    = resilience.OpenError
)

// Error kinds.
const (
	KindUnknown         = errors.Unknown
	KindConfiguration   = errors.Configuration
	KindRequestEncoding = errors.RequestEncoding
	KindTransport       = errors.Transport
	KindRead            = errors.Read
)

// Transport failure reasons.
const (
	ReasonNetwork     = errors.ReasonNetwork
	ReasonTimeout     = errors.ReasonTimeout
	ReasonCancelled   = errors.ReasonCancelled
	ReasonRateLimited = errors.ReasonRateLimited
)

// Sentinels for errors.Is.
var (
	ErrConfiguration   = errors.ErrConfiguration
	ErrRequestEncoding = errors.ErrRequestEncoding
	ErrTransport       = errors.ErrTransport
	ErrRead            = errors.ErrRead
)

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind { return errors.GetKind(err) }

// AsRemote extracts a RemoteResponseError from err.
func AsRemote(err error) (*RemoteResponseError, bool) { return errors.AsRemote(err) }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int { return errors.StatusCode(err) }
