package authsel

import (
	"errors"
	"fmt"
	"net"

	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/resolver"
)

var (
	// ErrCanceled is returned by every accessor once the session or the
	// selection has been canceled.
	ErrCanceled = errors.New("authsel: canceled")

	// ErrMissingHint is returned when a required session argument is empty.
	ErrMissingHint = errors.New("authsel: missing required hint")

	// ErrNoSecret is returned when a mechanism needs a password, certificate
	// or existing credential and none is available.
	ErrNoSecret = errors.New("authsel: no secret available")

	// ErrNoMapping is returned when no realm is known for the host.
	ErrNoMapping = resolver.ErrNoMapping

	// ErrAlreadyResolved is returned when a selection gate is signaled twice.
	ErrAlreadyResolved = errors.New("authsel: selection already resolved")

	// ErrCommunication wraps failures to reach a discovery or credential service.
	ErrCommunication = errors.New("authsel: communication failure")

	// ErrNotFound is returned when a reference key or label matches nothing.
	ErrNotFound = errors.New("authsel: credential not found")
)

// AcquireError describes a failed credential acquisition. It is scoped to a
// single selection.
type AcquireError struct {
	Mechanism Mechanism
	// Code is the GSS major status of the underlying failure.
	Code    uint32
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AcquireError) Error() string {
	msg := fmt.Sprintf("authsel: acquire %s credential: %s (code 0x%08x)", e.Mechanism, e.Message, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *AcquireError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err came from a canceled session or selection.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsAcquireError reports whether err is an *AcquireError.
func IsAcquireError(err error) bool {
	var ae *AcquireError
	return errors.As(err, &ae)
}

// newAcquireError classifies err into an AcquireError for mech.
func newAcquireError(mech Mechanism, msg string, err error) *AcquireError {
	ae := &AcquireError{Mechanism: mech, Message: msg, Err: err}

	var se *credstore.Error
	var ne net.Error
	switch {
	case errors.As(err, &se):
		ae.Code = se.Status.Major()
		if se.Message != "" {
			ae.Message = se.Message
		}
	case errors.Is(err, ErrNoSecret):
		ae.Code = credstore.StatusNoCred.Major()
	default:
		ae.Code = credstore.StatusFailure.Major()
	}
	if errors.As(err, &ne) && !errors.Is(err, ErrCommunication) {
		ae.Err = fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	return ae
}
