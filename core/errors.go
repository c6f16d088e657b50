package core

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a canonical error independently of any provider SDK's
// exception types. Provider adapters map SDK errors onto exactly one kind;
// errors they cannot map are returned unchanged rather than swallowed.
type ErrorKind string

const (
	// KindAuthentication covers invalid or missing credentials.
	KindAuthentication ErrorKind = "authentication"
	// KindPermission covers valid credentials lacking access.
	KindPermission ErrorKind = "permission"
	// KindBadRequest covers malformed requests, including request-side
	// schema and validation failures.
	KindBadRequest ErrorKind = "bad_request"
	// KindNotFound covers unknown models, endpoints or resources.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimit covers throttling by the provider.
	KindRateLimit ErrorKind = "rate_limit"
	// KindServer covers provider-side failures (5xx).
	KindServer ErrorKind = "server"
	// KindTimeout covers request deadlines exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindConnection covers transport-level failures reaching the provider.
	KindConnection ErrorKind = "connection"
	// KindResponseValidation covers malformed or unexpected response shapes.
	KindResponseValidation ErrorKind = "response_validation"
	// KindToolExecution covers failures raised by user tool code. These are
	// captured into ToolOutput values, never propagated as call failures.
	KindToolExecution ErrorKind = "tool_execution"
	// KindFormatValidation covers structured-output parse or validation
	// failures against a declared format.
	KindFormatValidation ErrorKind = "format_validation"
	// KindStreamNotFinished flags API misuse: reading derived response state
	// before the stream was drained via Finish.
	KindStreamNotFinished ErrorKind = "stream_not_finished"
	// KindMalformedOutput means the partial JSON parser found no locatable
	// JSON payload in the model output.
	KindMalformedOutput ErrorKind = "malformed_output"
)

// Error is the canonical error type for the whole library. It preserves the
// original provider SDK error (if any) as Cause for diagnostics.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`    // Provider id, when known
	StatusCode int       `json:"status_code,omitempty"` // HTTP status, when applicable
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap returns the original underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind, so callers can test taxonomy membership with
// errors.Is(err, &core.Error{Kind: core.KindRateLimit}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NewError creates a canonical error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a canonical error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a canonical error preserving cause for diagnostics.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is (or wraps) a canonical error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
