// Package faults defines the error kinds raised by the control loop.
package faults

import "errors"

// Code is a stable, wire-facing error identifier. It is a string newtype,
// comparable, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	InvalidAddress     Code = "invalid_address"
	CardSelectFailure  Code = "card_select_failure"
	ChannelReadFailure Code = "channel_read_failure"
	InvalidCommand     Code = "invalid_command"
	SetApplyFailure    Code = "set_apply_failure"

	// Transport is only fatal at startup (bind/connect).
	Transport Code = "transport"

	Error Code = "error"
)

// Codes lists the per-cycle fault kinds in a stable order.
var Codes = []Code{
	InvalidAddress,
	CardSelectFailure,
	ChannelReadFailure,
	InvalidCommand,
	SetApplyFailure,
}

// E carries a Code together with the operation, detail and cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New returns an *E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap returns an *E with err as its cause. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Is reports whether err carries code c.
func Is(err error, c Code) bool {
	return Of(err) == c
}
