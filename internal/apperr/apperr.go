// Package apperr defines the failure taxonomy of the sync core. None of these
// errors are fatal: the caller keeps its last known good state and, for
// driver-initiated operations, shows the message to the operator.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidTransition: the action is not legal for the job's status.
	KindInvalidTransition
	// KindNetworkFailure: a poll, action or verify call failed.
	KindNetworkFailure
	// KindMalformedRecord: an incoming record lacks required identity.
	KindMalformedRecord
	// KindVerificationTimeout: payment polling ran out of attempts.
	KindVerificationTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNetworkFailure:
		return "network_failure"
	case KindMalformedRecord:
		return "malformed_record"
	case KindVerificationTimeout:
		return "verification_timeout"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidTransition(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetworkFailure, Op: op, Err: err}
}

func Malformed(op, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedRecord, Op: op, Message: fmt.Sprintf(format, args...)}
}

func VerificationTimeout(op string, attempts int) *Error {
	return &Error{Kind: KindVerificationTimeout, Op: op, Message: fmt.Sprintf("not confirmed after %d attempts", attempts)}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
