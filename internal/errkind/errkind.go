// Package errkind gives every internal failure a stable kind, not just a
// message, so the IPC layer (the one place that maps errors to wire codes,
// per the broker's error handling design) never has to pattern-match
// strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy entries. It is not an error itself — it
// tags one via Wrap/New.
type Kind string

const (
	InvalidUri           Kind = "invalid_uri"
	InvalidParams        Kind = "invalid_params"
	UnknownMethod        Kind = "unknown_method"
	AccountNotFound      Kind = "account_not_found"
	ProviderNotConfigured Kind = "provider_not_configured"
	SecretNotFound       Kind = "secret_not_found"
	AuthRequired         Kind = "auth_required"
	UserDenied           Kind = "user_denied"
	FlowInProgress       Kind = "flow_in_progress"
	FlowTimeout          Kind = "flow_timeout"
	Expired              Kind = "expired"
	RefreshFailed        Kind = "refresh_failed"
	StoreBackend         Kind = "store_backend"
	KeyringUnavailable   Kind = "keyring_unavailable"
	FileIo               Kind = "file_io"
	HttpStatus           Kind = "http_status"
	Network              Kind = "network"
	Timeout              Kind = "timeout"
	ParseError           Kind = "parse_error"
	OversizeFrame        Kind = "oversize_frame"
	Unauthorized         Kind = "unauthorized"
)

// Data carries the non-secret identifying context an error may attach:
// which service/account/kind it concerns, and for HttpStatus the upstream
// status code and a truncated body excerpt. Never populate this with
// secret material.
type Data struct {
	Service string `json:"service,omitempty"`
	Account string `json:"account,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Key     string `json:"key,omitempty"`
	Code    int    `json:"code,omitempty"`
	Excerpt string `json:"body_excerpt,omitempty"`
}

// Error is a kinded, wrapped error.
type Error struct {
	K    Kind
	Data Data
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.K, e.Err)
	}
	return string(e.K)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare kinded error with no wrapped cause.
func New(k Kind, msg string) *Error {
	return &Error{K: k, Err: errors.New(msg)}
}

// Wrap attaches a kind to an existing error.
func Wrap(k Kind, err error) *Error {
	return &Error{K: k, Err: err}
}

// WithData attaches identifying data and returns the same *Error for
// chaining: errkind.Wrap(errkind.AccountNotFound, err).WithData(d)
func (e *Error) WithData(d Data) *Error {
	e.Data = d
	return e
}

// Is reports the kind of err, defaulting to Network for anything that
// never passed through this package — callers should prefer a more
// specific wrap, but a stray unwrapped error must still map to something.
func Is(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Network
}

// DataOf extracts the Data attached to err, if any.
func DataOf(err error) Data {
	var e *Error
	if errors.As(err, &e) {
		return e.Data
	}
	return Data{}
}
