package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindInvalidInput is a caller mistake in the request payload (empty or malformed).
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindInvalidCID is a malformed or unsupported content identifier.
	KindInvalidCID Kind = "INVALID_CID"
	// KindNotFound means a digest or CID is not present in the store.
	KindNotFound Kind = "NOT_FOUND"
	// KindCorruption means stored bytes do not hash to their key. Never retried, never masked.
	KindCorruption Kind = "CORRUPTION"
	// KindIO is an underlying storage or stream failure. Callers may retry.
	KindIO Kind = "IO"
	// KindInternal is anything else.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type shared by every layer.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns an *Error with no cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf formats a message into a new *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to cause. A nil cause yields a plain *Error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or
// KindInternal when err carries none. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
