// Package protocol implements the declarative provider manifest: the
// schema, loader, and predicate language that drive every wire-level
// adaptation decision in the client.
package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of error categories the client surfaces.
// Every error raised anywhere in the pipeline maps onto exactly one kind;
// retry and fallback decisions consult this classification, never a type
// hierarchy.
type ErrorKind string

const (
	KindManifestNotFound   ErrorKind = "manifest_not_found"
	KindManifestParseError ErrorKind = "manifest_parse_error"
	KindManifestInvalid    ErrorKind = "manifest_invalid"
	KindProtocolIncompat   ErrorKind = "protocol_incompatible"
	KindValidation         ErrorKind = "validation_error"
	KindTransportConnect   ErrorKind = "transport_connect"
	KindTransportTimeout   ErrorKind = "transport_timeout"
	KindAuthentication     ErrorKind = "authentication"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindNotFound           ErrorKind = "not_found"
	KindRateLimited        ErrorKind = "rate_limited"
	KindServerError        ErrorKind = "server_error"
	KindOverloaded         ErrorKind = "overloaded"
	KindBadRequest         ErrorKind = "bad_request"
	KindPipelineDecode     ErrorKind = "pipeline_decode_error"
	KindCircuitOpen        ErrorKind = "circuit_open"
)

// classification carries the fixed retry/fallback semantics for a Kind.
type classification struct {
	retryable    bool
	fallbackable bool
}

var classificationTable = map[ErrorKind]classification{
	KindManifestNotFound:   {retryable: false, fallbackable: false},
	KindManifestParseError: {retryable: false, fallbackable: false},
	KindManifestInvalid:    {retryable: false, fallbackable: false},
	KindProtocolIncompat:   {retryable: false, fallbackable: false},
	KindValidation:         {retryable: false, fallbackable: false},
	KindTransportConnect:   {retryable: true, fallbackable: true},
	KindTransportTimeout:   {retryable: true, fallbackable: true},
	KindAuthentication:     {retryable: false, fallbackable: true},
	KindPermissionDenied:   {retryable: false, fallbackable: true},
	KindNotFound:           {retryable: false, fallbackable: true},
	KindRateLimited:        {retryable: true, fallbackable: true},
	KindServerError:        {retryable: true, fallbackable: true},
	KindOverloaded:         {retryable: true, fallbackable: true},
	KindBadRequest:         {retryable: false, fallbackable: false},
	KindPipelineDecode:     {retryable: false, fallbackable: false},
	KindCircuitOpen:        {retryable: false, fallbackable: true},
}

// IsRetryable reports whether an error of this kind should be retried.
func (k ErrorKind) IsRetryable() bool { return classificationTable[k].retryable }

// IsFallbackable reports whether an error of this kind should advance a
// fallback chain to the next target.
func (k ErrorKind) IsFallbackable() bool { return classificationTable[k].fallbackable }

// Context carries structured, provider-facing diagnostic fields for an Error.
type Context struct {
	Provider   string
	Model      string
	Endpoint   string
	HTTPStatus int
	RequestID  string
	RetryAfter float64 // seconds; zero means absent
	FieldPath  string
}

// Error is the single concrete error type the library raises. Kind drives
// retry/fallback decisions; Context carries diagnostics; Cause wraps the
// underlying error, if any.
type Error struct {
	Kind    ErrorKind
	Message string
	Context Context
	Cause   error
}

func (e *Error) Error() string {
	if e.Context.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Kind, e.Message, e.Context.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's Kind should be retried.
func (e *Error) Retryable() bool { return e.Kind.IsRetryable() }

// Fallbackable reports whether this error's Kind should advance a fallback chain.
func (e *Error) Fallbackable() bool { return e.Kind.IsFallbackable() }

// New constructs an Error of the given kind.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, wrapping cause.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any exists in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// defaultHTTPClassification maps a bare HTTP status code onto an ErrorKind
// when the Manifest carries no explicit error_classification entry for it.
func defaultHTTPClassification(status int) ErrorKind {
	switch {
	case status == 401:
		return KindAuthentication
	case status == 403:
		return KindPermissionDenied
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status >= 500 && status < 600:
		return KindServerError
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindServerError
	}
}

// ClassifyHTTPStatus resolves an ErrorKind for an HTTP status code, first
// consulting the Manifest's declared classification table, then falling
// back to the conventional table above.
func ClassifyHTTPStatus(m *Manifest, status int) ErrorKind {
	if m != nil {
		if kind, ok := m.ErrorKindForHTTPStatus(status); ok {
			return kind
		}
	}
	return defaultHTTPClassification(status)
}
