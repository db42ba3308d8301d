// Package apperr implements the error taxonomy and JSON-RPC mapping
// shared by every fedmcp component: a closed set of error kinds, each
// carrying a retryability flag and a fixed JSON-RPC error code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the specification. Kinds are
// grouped by category (input, auth, upstream, resource, internal) but
// form one flat closed set so dispatch can switch on them exhaustively.
type Kind string

// Input errors.
const (
	KindInvalidParams       Kind = "invalid_params"
	KindUnsupportedProvider Kind = "unsupported_provider"
	KindToolNotAvailable    Kind = "tool_not_available"
)

// Auth errors.
const (
	KindAuthenticationRequired Kind = "authentication_required"
	KindTokenExpired           Kind = "token_expired"
	KindRefreshTokenRevoked    Kind = "refresh_token_revoked"
	KindNoConnectedProvider    Kind = "no_connected_provider"
	KindNoCredentials          Kind = "no_credentials"
)

// Upstream errors.
const (
	KindProviderNotFound     Kind = "provider_not_found"
	KindProviderAPIError     Kind = "provider_api_error"
	KindProviderRateLimited  Kind = "provider_rate_limited"
	KindProviderParseError   Kind = "provider_parse_error"
	KindUnsupportedFeature   Kind = "unsupported_feature"
	KindRefreshTransient     Kind = "refresh_transient"
	KindRefreshFailed        Kind = "refresh_failed"
)

// Resource errors.
const (
	KindNotFound         Kind = "not_found"
	KindCacheUnavailable Kind = "cache_unavailable"
	KindTimeout          Kind = "timeout"
)

// Internal errors.
const (
	KindConfigurationMissing Kind = "configuration_missing"
	KindCryptoFailure        Kind = "crypto_failure"
	KindInternal             Kind = "internal"
	KindOperationCancelled   Kind = "operation_cancelled"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
)

// JSON-RPC 2.0 error codes per the specification's mapping table.
const (
	CodeInvalidParams = -32602
	CodeMethodOrTool  = -32601
	CodeInternal      = -32603
)

// Error is the concrete error type every fedmcp component returns.
// It wraps an optional underlying cause and is comparable via errors.Is
// against any *Error of the same Kind (see Is below).
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
	// Data carries structured context surfaced in the JSON-RPC "data"
	// field (e.g. {provider, feature} for UnsupportedFeature).
	Data map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, apperr.New(KindNotFound, "")) style checks work without
// exposing sentinel values for every kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable(kind)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Retryable: defaultRetryable(kind)}
}

// WithData attaches structured data and returns the same *Error for chaining.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindProviderAPIError, KindProviderRateLimited, KindTimeout,
		KindCacheUnavailable, KindRefreshTransient:
		return true
	default:
		return false
	}
}

// JSONRPCError is the wire shape used by pkg/mcpwire; duplicated here
// (rather than importing mcpwire) to avoid an import cycle between the
// error taxonomy and the wire layer.
type JSONRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ToJSONRPCError maps an error through the taxonomy to a JSON-RPC error
// object per the specification's mapping table. Non-*Error values are
// treated as KindInternal.
func ToJSONRPCError(err error) JSONRPCError {
	var e *Error
	if !errors.As(err, &e) {
		return JSONRPCError{Code: CodeInternal, Message: err.Error()}
	}

	data := map[string]any{}
	for k, v := range e.Data {
		data[k] = v
	}
	data["kind"] = string(e.Kind)
	data["retryable"] = e.Retryable

	code := CodeInternal
	switch e.Kind {
	case KindInvalidParams:
		code = CodeInvalidParams
	case KindToolNotAvailable:
		code = CodeMethodOrTool
	}

	return JSONRPCError{Code: code, Message: e.Message, Data: data}
}
