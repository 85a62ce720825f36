package token

import (
	"code.aegisid.org/golang/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error                  = errorFlag("token: error")
	ErrAlreadyEnrolled     = errorFlag("token: already enrolled")
	ErrInvalidCode         = errorFlag("token: invalid registration code")
	ErrNetworkRejected     = errorFlag("token: rejected by server")
	ErrOperationInProgress = errorFlag("token: operation in progress")
	ErrUnreachable         = errorFlag("token: server unreachable")
	ErrPartialCleanup      = errorFlag("token: local cleanup done, server state may be stale")
	ErrNotEnrolled         = errorFlag("token: not enrolled")
	ErrFactorUnavailable   = errorFlag("token: factor unavailable")
	ErrFactorCancelled     = errorFlag("token: factor cancelled")
	ErrLifespanExceeded    = errorFlag("token: lifespan exceeded")
	ErrTimedOut            = errorFlag("token: timed out")
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
