package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted reports that every permitted attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrPermanent reports a failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent model failure")
	// ErrCanceled reports that the caller's context ended before a response arrived.
	ErrCanceled = errors.New("model invocation canceled")
)

// StatusError is a remote failure that carries an HTTP-like status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// StatusOf returns the status code carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// InvocationError is returned by Invoker when a call does not produce a
// response. Err is the last underlying failure. At most one of Exhausted
// and Canceled is set; neither means the failure was permanent.
type InvocationError struct {
	Call      string
	Attempts  int
	Exhausted bool
	Canceled  bool
	Err       error
}

func (e *InvocationError) kind() error {
	switch {
	case e.Canceled:
		return ErrCanceled
	case e.Exhausted:
		return ErrRetriesExhausted
	}
	return ErrPermanent
}

func (e *InvocationError) Error() string {
	kind := e.kind()
	return fmt.Sprintf("%s: model invocation failed after %d attempt(s): %v: %v", e.Call, e.Attempts, kind, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func (e *InvocationError) Is(target error) bool {
	switch target {
	case ErrRetriesExhausted, ErrPermanent, ErrCanceled:
		return e.kind() == target
	}
	return false
}
