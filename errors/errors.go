// Package errors provides the structured error type shared by the storage,
// search, push and propagation packages.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeIndexFailure      ErrorCode = "INDEX_FAILURE"
	ErrCodeNotifyFailure     ErrorCode = "NOTIFY_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation names the operation during which an error occurred.
type Operation string

const (
	OpCreate      Operation = "create"
	OpUpdate      Operation = "update"
	OpDelete      Operation = "delete"
	OpLoad        Operation = "load"
	OpList        Operation = "list"
	OpIndexUpsert Operation = "index_upsert"
	OpIndexDelete Operation = "index_delete"
	OpSearch      Operation = "search"
	OpPublish     Operation = "publish"
	OpAdvance     Operation = "advance"
	OpPropagate   Operation = "propagate"
	OpClose       Operation = "close"
	OpDecode      Operation = "decode"
)

// Component identifies the package that produced an error, e.g. "storage/sqlite".
type Component string

// Kind classifies an error for callers that need to branch on it (the HTTP
// layer maps kinds to status codes).
type Kind uint8

const (
	KindOther Kind = iota
	KindNotFound
	KindConflict
	KindInvalid
	KindForbidden
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "other"
	}
}

// Error represents a failure in one of the service components.
type Error struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "storage/sqlite", "search")
	Component string

	// Kind classifies the error
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *Error) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err == nil {
		return msg
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error from its arguments. Recognised argument types are
// Operation, Component, Kind, ErrorCode, error, string (a message that wraps
// the error, or becomes the error when none is given) and
// map[string]interface{} (metadata). A nil error argument is ignored.
func E(args ...interface{}) error {
	e := &Error{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case map[string]interface{}:
			e.Metadata = a
		case string:
			msgs = append(msgs, a)
		case *Error:
			// Inherit the classification of a wrapped structured error.
			if e.Kind == KindOther {
				e.Kind = a.Kind
			}
			e.Retryable = e.Retryable || a.Retryable
			e.Err = a
		case error:
			e.Err = a
		}
	}
	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}
	return e
}

// NewStorageError creates a new storage-related Error
func NewStorageError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "storage",
		Kind:      KindUnavailable,
		Err:       cause,
		Retryable: true,
	}
}

// NewIndexError creates a new search index Error
func NewIndexError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeIndexFailure,
		Op:        op,
		Component: "search",
		Kind:      KindUnavailable,
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related Error
func NewValidationError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// IsRetryable checks if an error is a retryable Error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the Kind of the outermost *Error in err's chain that carries
// one, or KindOther.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindOther
		}
		if e.Kind != KindOther {
			return e.Kind
		}
		err = e.Err
	}
	return KindOther
}
