// Package gwerr models the two ways a single frame or broker delivery can fail while a
// session is running: the failure can be swallowed and the pipeline keeps going
// (Ignore), or it is fatal to the connection and must close it with a specific code and
// reason (Close). Every pipeline step in C6/C7/C8 returns this shape instead of ad hoc
// sentinel errors, so the session controller has one place to look to decide whether to
// keep running or tear down.
package gwerr

import (
	"errors"
	"fmt"
)

// RFC 6455 close codes used by the session controller. The gateway has no
// application-specific close code range; every close uses one of these.
const (
	CodeNormal          = 1000
	CodeUnsupportedData = 1003
	CodeInvalidPayload  = 1007
	CodePolicyViolation = 1008
	CodeInternalError   = 1011
)

// Sentinel errors for conditions a pipeline step can hit. Each is normally wrapped in a
// Close outcome with the close code it maps to.
var (
	ErrNotAuthenticated     = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrDecodeError          = errors.New("payload decode error")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrIdentifyTimedOut     = errors.New("identify timed out")
	ErrMaxConnections       = errors.New("maximum connections reached")
)

// Outcome is the result of handling one frame or delivery. A nil *Outcome means
// "continue normally" and is never returned by Close or Ignore.
type Outcome struct {
	fatal  bool
	code   int
	reason string
	err    error
}

// Close builds a fatal outcome: the connection must be closed with code, and reason is
// sent to the peer as the close frame's reason text.
func Close(code int, reason string) *Outcome {
	return &Outcome{fatal: true, code: code, reason: reason, err: errors.New(reason)}
}

// CloseErr is Close, using err's message as the reason and preserving err for Unwrap.
func CloseErr(code int, err error) *Outcome {
	return &Outcome{fatal: true, code: code, reason: err.Error(), err: err}
}

// Ignore builds a non-fatal outcome: err is logged by the caller and the pipeline
// continues processing the next frame or delivery.
func Ignore(err error) *Outcome {
	return &Outcome{err: err}
}

// Error implements error so an *Outcome can be returned and propagated like any other
// error value.
func (o *Outcome) Error() string {
	if o == nil {
		return "<nil>"
	}
	if o.fatal {
		return fmt.Sprintf("close %d: %s", o.code, o.reason)
	}
	return fmt.Sprintf("ignored: %v", o.err)
}

// Unwrap exposes the underlying error for errors.Is/errors.As chains.
func (o *Outcome) Unwrap() error {
	if o == nil {
		return nil
	}
	return o.err
}

// IsClose reports whether this outcome requires closing the connection.
func (o *Outcome) IsClose() bool {
	return o != nil && o.fatal
}

// Code returns the close code. Only meaningful when IsClose() is true.
func (o *Outcome) Code() int {
	if o == nil {
		return 0
	}
	return o.code
}

// Reason returns the close reason text. Only meaningful when IsClose() is true.
func (o *Outcome) Reason() string {
	if o == nil {
		return ""
	}
	return o.reason
}

// AsClose discriminates err: ok is true only when err is (or wraps) a fatal *Outcome,
// in which case out is that outcome.
func AsClose(err error) (out *Outcome, ok bool) {
	var o *Outcome
	if errors.As(err, &o) && o.fatal {
		return o, true
	}
	return nil, false
}
