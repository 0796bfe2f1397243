package ledger

import (
	"errors"
	"fmt"
)

// Error codes reported by Error.Code.
const (
	CodeRejected    = "rejected"     // the service refused the request
	CodeRateLimited = "rate_limited" // HTTP 429
	CodeUnavailable = "unavailable"  // HTTP 5xx
	CodeBadStatus   = "bad_status"   // other non-200 HTTP status
	CodeNetwork     = "network"      // transport failure or timeout
	CodeDecode      = "decode"       // malformed response
)

// ErrNotFound is returned when the service has no record for the request.
var ErrNotFound = errors.New("not found")

// Error is a classified failure from an external service.
type Error struct {
	Method    string
	Code      string
	Message   string
	RPCCode   int
	transient bool
	err       error
}

func (e *Error) Error() string {
	if e.RPCCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Code, e.RPCCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Transient reports whether the same call may succeed if repeated.
func (e *Error) Transient() bool {
	return e.transient
}

func (e *Error) Unwrap() error {
	return e.err
}

// Rejected builds a permanent rejection carrying the service's text.
func Rejected(method, message string) *Error {
	return &Error{Method: method, Code: CodeRejected, Message: message}
}

// Unavailable builds a transient failure.
func Unavailable(method, message string) *Error {
	return &Error{Method: method, Code: CodeUnavailable, Message: message, transient: true}
}

// networkError wraps a transport failure as transient.
func networkError(method string, err error) *Error {
	return &Error{Method: method, Code: CodeNetwork, Message: err.Error(), transient: true, err: err}
}

// RejectionText returns the service's message when err is a rejection.
func RejectionText(err error) (string, bool) {
	var le *Error
	if errors.As(err, &le) && le.Code == CodeRejected {
		return le.Message, true
	}
	return "", false
}
