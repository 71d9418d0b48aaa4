// errors.go — Domain error taxonomy and JSON-RPC error-code mapping.
// The façade, registry, and recorder raise *DomainError; the router maps each
// Kind to the fixed JSON-RPC error code the protocol promises (spec §4.1, §7).
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of domain failure, independent of its JSON-RPC
// wire code. Kinds are matched with errors.As, never string comparison.
type Kind int

const (
	KindParse Kind = iota
	KindEnvelope
	KindMethodNotFound
	KindInvalidParams
	KindTabNotFound
	KindSessionNotFound
	KindTimeout
	KindNavigation
	KindJavaScript
	KindLearnMode
	KindInternal
)

// Code returns the fixed JSON-RPC error code for a Kind, per spec §4.1.
func (k Kind) Code() int {
	switch k {
	case KindParse:
		return -32700
	case KindEnvelope:
		return -32600
	case KindMethodNotFound:
		return -32601
	case KindInvalidParams:
		return -32602
	case KindTabNotFound:
		return -32000
	case KindJavaScript:
		return -32001
	case KindNavigation:
		return -32002
	case KindTimeout:
		return -32003
	case KindSessionNotFound:
		return -32004
	case KindLearnMode:
		return -32005
	default:
		return -32603
	}
}

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindEnvelope:
		return "envelope_error"
	case KindMethodNotFound:
		return "method_not_found"
	case KindInvalidParams:
		return "invalid_params"
	case KindTabNotFound:
		return "tab_not_found"
	case KindSessionNotFound:
		return "session_not_found"
	case KindTimeout:
		return "timeout"
	case KindNavigation:
		return "navigation_error"
	case KindJavaScript:
		return "javascript_error"
	case KindLearnMode:
		return "learn_mode_error"
	default:
		return "internal_error"
	}
}

// DomainError is the single error type every component in this repository
// raises. The router is the only place a DomainError is translated into a
// wire-level JSON-RPC error object.
type DomainError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Cause: cause}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Code returns the JSON-RPC error code this error maps to.
func (e *DomainError) Code() int { return e.Kind.Code() }

// Convenience constructors for the common call sites.

func TabNotFound(tabID string) *DomainError {
	return New(KindTabNotFound, fmt.Sprintf("no such tab: %s", tabID))
}

func SessionNotFound(sessionID string) *DomainError {
	return New(KindSessionNotFound, fmt.Sprintf("no such session: %s", sessionID))
}

func Timeout(op string) *DomainError {
	return New(KindTimeout, fmt.Sprintf("timed out waiting for %s", op))
}

func Navigation(message string, cause error) *DomainError {
	return Wrap(KindNavigation, message, cause)
}

func JavaScript(message string, cause error) *DomainError {
	return Wrap(KindJavaScript, message, cause)
}

func LearnMode(message string) *DomainError {
	return New(KindLearnMode, message)
}

func InvalidParams(message string) *DomainError {
	return New(KindInvalidParams, message)
}

func Internal(message string, cause error) *DomainError {
	return Wrap(KindInternal, message, cause)
}

// AsDomainError extracts a *DomainError from err, wrapping it as KindInternal
// if err is of an unrecognized type. Mirrors the teacher's policy of never
// letting a raw error escape the router unmapped (internal/mcp/errors.go).
func AsDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return Internal("unexpected error", err)
}
