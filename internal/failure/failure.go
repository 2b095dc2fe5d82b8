// Package failure tags run errors with the taxonomy presentation code branches on.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a run stopped.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNetwork    Kind = "network"
	KindRemoteJob  Kind = "remote_job"
	KindTranscode  Kind = "transcode"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
	KindInternal   Kind = "internal"
)

// Error is a tagged, operation-aware run failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error formats the failure for logs.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a tagged error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validation tags an unclassifiable input.
func Validation(op, message string) *Error {
	return New(KindValidation, op, message, nil)
}

// Network tags a transport failure or non-success response.
func Network(op, message string, err error) *Error {
	return New(KindNetwork, op, message, err)
}

// RemoteJob tags a job that ended in the remote error state.
func RemoteJob(op, message string) *Error {
	return New(KindRemoteJob, op, message, nil)
}

// Transcode tags a codec runtime failure.
func Transcode(op, message string, err error) *Error {
	return New(KindTranscode, op, message, err)
}

// Timeout tags a poll loop that ran past its bounds.
func Timeout(op, message string) *Error {
	return New(KindTimeout, op, message, nil)
}

// KindOf returns the taxonomy tag of err. Context cancellation maps to
// KindCancelled, an expired deadline to KindTimeout and untagged errors to
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable text shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timed out"
	}
	return err.Error()
}
