package credstore

import "fmt"

// Status is a GSS-API routine error (RFC 2743 § 1.2.1.1). The numeric value
// reported to callers is the major status, Status<<16.
type Status uint8

const (
	StatusBadMech Status = iota + 1
	StatusBadName
	StatusBadNameType
	StatusBadBindings
	StatusBadStatus
	StatusBadMIC
	StatusNoCred
	StatusNoContext
	StatusDefectiveToken
	StatusDefectiveCredential
	StatusCredentialsExpired
	StatusContextExpired
	StatusFailure
	StatusBadQOP
	StatusUnauthorized
	StatusUnavailable
	StatusDuplicateElement
	StatusNameNotMN
)

// error strings from MIT Kerberos (lib/gssapi/generic/disp_major_status.c)
var statusText = [...]string{
	"An unsupported mechanism was requested",
	"An invalid name was supplied",
	"A supplied name was of an unsupported type",
	"Incorrect channel bindings were supplied",
	"An invalid status code was supplied",
	"A token had an invalid signature",
	"No credentials were supplied, or the credentials were unavailable or inaccessible",
	"No context has been established",
	"A token was invalid",
	"A credential was invalid",
	"The referenced credentials have expired",
	"The context has expired",
	"Unspecified GSS failure",
	"The quality-of-protection requested could not be provided",
	"The operation is forbidden by the local security policy",
	"The operation or option is not available or unsupported",
	"The requested credential element already exists",
	"The provided name was not mechanism specific (MN)",
}

func (s Status) String() string {
	if s == 0 || int(s) > len(statusText) {
		return fmt.Sprintf("unknown GSS status %d", uint8(s))
	}
	return statusText[s-1]
}

// Major returns the GSS major status code.
func (s Status) Major() uint32 {
	return uint32(s) << 16
}

// Error is a credential-store failure with its GSS status and an optional
// mechanism-specific minor code.
type Error struct {
	Status  Status
	Minor   int32
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("credstore: %s: %v", msg, e.Err)
	}
	return "credstore: " + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status Status, msg string, err error) *Error {
	return &Error{Status: status, Message: msg, Err: err}
}
