package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDescriptor  = errors.New("invalid resource descriptor")
	ErrInvalidHandle      = errors.New("resource handle does not belong to this graph")
	ErrUnbalancedMarkers  = errors.New("debug markers are not balanced")
	ErrNotCompiled        = errors.New("render graph executed before being compiled")
	ErrAlreadyCompiled    = errors.New("render graph already compiled")
	ErrAlreadyExecuted    = errors.New("render graph already executed")
	ErrDeclarationClosed  = errors.New("render graph no longer accepts declarations")
	ErrUndeclaredResource = errors.New("resource not declared by the pass")
	ErrPassDataTooLarge   = errors.New("pass data exceeds the inline capacity")
	ErrExecutorClosed     = errors.New("executor already shut down")
	ErrUnknown            = errors.New("unknown")
)

// AssertionError is the panic value raised when an engine invariant is
// violated. Err is one of the sentinel errors above.
type AssertionError struct {
	Err    error
	Detail string
}

func (e *AssertionError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

func (e *AssertionError) Unwrap() error {
	return e.Err
}

// Assert panics with an AssertionError wrapping err when cond is false.
func Assert(cond bool, err error) {
	if !cond {
		fail(err, "")
	}
}

// Assertf is Assert with a formatted detail message.
func Assertf(cond bool, err error, format string, args ...interface{}) {
	if !cond {
		fail(err, fmt.Sprintf(format, args...))
	}
}

func fail(err error, detail string) {
	ae := &AssertionError{Err: err, Detail: detail}
	getLogger().Errorf("assertion failed: %s", ae.Error())
	panic(ae)
}
