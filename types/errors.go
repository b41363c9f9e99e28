package types

import (
	"errors"
	"fmt"
)

// ErrKind classifies every error this system surfaces, per the error
// handling design: callers branch on kind, not on string matching.
type ErrKind int

const (
	// InvalidInput marks malformed parameters (bad account string,
	// unparseable order id).
	InvalidInput ErrKind = iota
	// InvalidData marks downloaded or received bytes that fail a
	// structural or hash check.
	InvalidData
	// NotFound marks an asked-for record that is absent.
	NotFound
	// ErrorState marks an operation invoked on an object in the wrong
	// status (e.g. responding to a proof for a Syncing contract).
	ErrorState
	// MerkleRootMismatch is a distinguished sub-kind of InvalidData
	// signaling permanent failure of this sync attempt: the contract
	// is removed from the sync set and not retried.
	MerkleRootMismatch
	// ConnectFailed marks a transient transport error. The chain client
	// makes up to 3 attempts per request and the chunk downloader up to
	// 5 per chunk before surfacing it.
	ConnectFailed
	// Cryptographic marks a signature or key parsing failure.
	Cryptographic
	// Fatal is anything else; typically logged, with the worker
	// abandoning the current iteration.
	Fatal
)

func (k ErrKind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case InvalidData:
		return "InvalidData"
	case NotFound:
		return "NotFound"
	case ErrorState:
		return "ErrorState"
	case MerkleRootMismatch:
		return "MerkleRootMismatch"
	case ConnectFailed:
		return "ConnectFailed"
	case Cryptographic:
		return "Cryptographic"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with the ErrKind vocabulary this system
// reports through. It is deliberately a plain struct implementing Unwrap,
// not a third-party error-stack library: none of the example repos this
// system is grounded on reach for one.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind. If err is nil a plain message error is
// created from kind's name so callers can't accidentally produce a nil
// *Error that still satisfies the error interface.
func NewError(kind ErrKind, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the ErrKind of err, walking Unwrap chains. Plain errors
// not produced by NewError are reported as Fatal.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// IsKind reports whether err's kind (after unwrapping) is kind.
func IsKind(err error, kind ErrKind) bool {
	return KindOf(err) == kind
}
