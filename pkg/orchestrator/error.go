package orchestrator

import (
	"errors"
	"fmt"
)

type ExitCode int

// Keep separate to avoid skewing exit codes. Zero covers every classified
// outcome, including "not ready yet" and "no bids"; non-zero codes are
// reserved for failures automation cannot interpret from the result alone.
const (
	ExitSuccess ExitCode = iota
	ExitInvocationFailure
	ExitInternalError
	ExitUnavailable
	ExitAmbiguousState
	ExitStateLocked
)

// Error kinds surfaced in the result's error object.
const (
	KindNoBids         = "noBids"
	KindBidsExpired    = "bidsExpired"
	KindNoEligibleBids = "noEligibleBids"
	KindNotCreated     = "deploymentNotCreated"
	KindNoDeployment   = "noActiveDeployment"
	KindLeaseClosed    = "leaseClosed"
	KindAmbiguous      = "ambiguousOutcome"
	KindStateLocked    = "stateLocked"
	KindLedger         = "ledgerUnavailable"
	KindProvider       = "providerUnavailable"
	KindInvocation     = "invocationFailure"
	KindInternal       = "internalError"
)

type Error struct {
	Code ExitCode
	Kind string
	Err  error
}

func (err *Error) Error() string {
	return err.Err.Error()
}

func (err *Error) Unwrap() error {
	return err.Err
}

// Classified marks a terminal but expected outcome: reported in the
// result's error object, exit code zero.
func Classified(kind, format string, args ...interface{}) *Error {
	return &Error{
		Code: ExitSuccess,
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}

func Errorf(code ExitCode, kind, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}

func ErrorWrap(code ExitCode, kind string, err error) *Error {
	return &Error{
		Code: code,
		Kind: kind,
		Err:  err,
	}
}

func ErrorExitCode(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	e := &Error{}
	if !errors.As(err, &e) {
		return ExitInternalError
	}
	return e.Code
}

// ErrorKind classifies any error for the result object. Unwrapped errors
// degrade to internalError rather than escaping raw.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	e := &Error{}
	if !errors.As(err, &e) {
		return KindInternal
	}
	return e.Kind
}
