package actionqueue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// FailureClass decides how a failed send is handled.
type FailureClass int

const (
	// FailureTransient marks network or availability failures. They are always retried.
	FailureTransient FailureClass = iota
	// FailureLogic marks backend rejections. They are surfaced on submit and retried on replay up to a cap.
	FailureLogic
)

// String returns the class name used in logs.
func (c FailureClass) String() string {
	if c == FailureLogic {
		return "logic"
	}

	return "transient"
}

// TransientKind names the cause of a transient failure.
type TransientKind string

const (
	// TransientTimeout is a send that exceeded its deadline.
	TransientTimeout TransientKind = "timeout"
	// TransientConnection is a refused or reset connection.
	TransientConnection TransientKind = "connection"
	// TransientDNS is a name resolution failure.
	TransientDNS TransientKind = "dns"
	// TransientUnreachable is a network or host that cannot be reached.
	TransientUnreachable TransientKind = "unreachable"
	// TransientUnavailable is a backend that answered but is temporarily unable to serve.
	TransientUnavailable TransientKind = "unavailable"
	// TransientUnknown is any failure without a more specific cause.
	TransientUnknown TransientKind = "unknown"
)

// TransientError reports a retryable failure.
type TransientError struct {
	Kind TransientKind
	Err  error
}

// NewTransientError wraps err as a transient failure of the given kind.
func NewTransientError(kind TransientKind, err error) *TransientError {
	return &TransientError{Kind: kind, Err: err}
}

// Error implements error.
func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("actionqueue: transient %s failure", e.Kind)
	}

	return fmt.Sprintf("actionqueue: transient %s failure: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// LogicError reports that the backend rejected an action for domain reasons.
type LogicError struct {
	// Code is an optional machine-readable reason (e.g., "validation", "conflict", "http_422").
	Code string
	// Message is the backend's explanation.
	Message string
}

// NewLogicError creates a backend rejection.
func NewLogicError(code, message string) *LogicError {
	return &LogicError{Code: code, Message: message}
}

// Error implements error.
func (e *LogicError) Error() string {
	if e.Code == "" {
		return "actionqueue: rejected: " + e.Message
	}

	return fmt.Sprintf("actionqueue: rejected (%s): %s", e.Code, e.Message)
}

// IsLogic reports whether err carries a *LogicError.
func IsLogic(err error) bool {
	var logicErr *LogicError

	return errors.As(err, &logicErr)
}

// IsTransient reports whether DefaultClassifier treats err as transient.
func IsTransient(err error) bool {
	return err != nil && DefaultClassifier(err) == FailureTransient
}

// Classifier maps a send error to a FailureClass. It must be deterministic.
type Classifier func(err error) FailureClass

// DefaultClassifier treats *LogicError as logic and everything else as transient.
// An explicit *TransientError wins over a wrapped *LogicError.
func DefaultClassifier(err error) FailureClass {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return FailureTransient
	}
	if IsLogic(err) {
		return FailureLogic
	}

	return FailureTransient
}

// TransientKindOf derives the transient cause of err for logs and metrics.
func TransientKindOf(err error) TransientKind {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.Kind
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return TransientTimeout
	case errors.As(err, &dnsErr):
		return TransientDNS
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return TransientConnection
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return TransientUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransientTimeout
	}

	return TransientUnknown
}
