// Package apperrors defines the gateway's error taxonomy (spec §7) and the
// retry/circuit-breaking helpers built on top of it.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds from spec §7. Kinds are stable strings so
// they can be serialized directly into HTTP error bodies without leaking
// internal types or stack traces.
type Kind string

const (
	KindAuthMissingToken Kind = "auth:missing-token"
	KindAuthBadToken     Kind = "auth:bad-token"
	KindAuthMissingUser  Kind = "auth:missing-user"

	KindValidationUnknownCommand Kind = "validation:unknown-command"
	KindValidationBadServerID    Kind = "validation:bad-server-id"
	KindValidationBadArg         Kind = "validation:bad-arg"
	KindValidationBadEnvKey      Kind = "validation:bad-env-key"
	KindValidationBadEnvValue    Kind = "validation:bad-env-value"
	KindValidationPathTraversal  Kind = "validation:path-traversal"
	KindValidationTooMany        Kind = "validation:too-many"

	KindMCPSpawnFailed       Kind = "mcp:spawn-failed"
	KindMCPHandshakeTimeout  Kind = "mcp:handshake-timeout"
	KindMCPTransport         Kind = "mcp:transport"
	KindMCPToolTimeout       Kind = "mcp:tool-timeout"
	KindMCPToolRaised        Kind = "mcp:tool-raised"
	KindModelUpstream        Kind = "model:upstream"
	KindSessionSuperseded    Kind = "session:superseded"
	KindStreamNotFound       Kind = "stream:not-found"
	KindStoreUnavailable     Kind = "store:unavailable"
)

// GatewayError is the concrete error type carried across component
// boundaries. Its Kind determines the HTTP status mapping in internal/httpapi.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// New builds a GatewayError with the given kind and message.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap builds a GatewayError with the given kind, wrapping an underlying
// cause that is preserved for logging but never rendered to the client.
func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a GatewayError.
func KindOf(err error) (Kind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ErrorType classifies an error for retry purposes, generalizing the
// teacher's TransientError/PermanentError/DegradedError trio
// (internal/errors/types.go) to the gateway's Kind taxonomy.
type ErrorType int

const (
	ErrorTypeTransient ErrorType = iota
	ErrorTypePermanent
	ErrorTypeDegraded
)

// Classify maps a Kind to a retry classification. Handshake timeouts and
// transport errors are transient (the caller may retry the McpClient
// operation or the upstream model call); validation and auth errors are
// permanent; tool-raised errors are degraded (the session continues with an
// error-flagged tool_result rather than failing the whole turn).
func Classify(kind Kind) ErrorType {
	switch kind {
	case KindMCPHandshakeTimeout, KindMCPTransport, KindMCPToolTimeout, KindModelUpstream, KindStoreUnavailable:
		return ErrorTypeTransient
	case KindMCPToolRaised:
		return ErrorTypeDegraded
	default:
		return ErrorTypePermanent
	}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return Classify(kind) == ErrorTypeTransient
}
