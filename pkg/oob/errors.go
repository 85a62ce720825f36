package oob

import (
	"code.aegisid.org/golang/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error                  = errorFlag("oob: error")
	ErrUnreachable         = errorFlag("oob: server unreachable")
	ErrRejected            = errorFlag("oob: rejected by server")
	ErrPartialCleanup      = errorFlag("oob: local cleanup done, server state may be stale")
	ErrOperationInProgress = errorFlag("oob: operation in progress")
	ErrMalformed           = errorFlag("oob: malformed payload")
	ErrNotRegistered       = errorFlag("oob: no OOB registration")
	ErrTimedOut            = errorFlag("oob: timed out")
	noError                = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	}
	return Error
}

// newError returns a utils.RaisedErr{} that contains file & line of where it was called.
func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

// wrapError returns a utils.RaisedErr{} that contains file & line of where it was called.
func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}
