package i2c

import (
	"errors"
	"fmt"
)

// ErrNACK signals that the receiver did not acknowledge a byte.
var ErrNACK = errors.New("NACK received")

// Code is the status of a bus operation. It is comparable and implements
// error so it can be matched with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK                 Code = "ok"
	InvalidArgument    Code = "invalid_argument"
	BusError           Code = "bus_error"
	Timeout            Code = "timeout"
	OutOfResources     Code = "out_of_resources"
	ConfigurationError Code = "configuration_error"
)

// Class tells the transfer loop what to do with a failure.
type Class uint8

const (
	None Class = iota
	Retryable
	Fatal
)

func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Class returns Retryable for BusError, None for OK and Fatal otherwise.
func (c Code) Class() Class {
	switch c {
	case OK:
		return None
	case BusError:
		return Retryable
	default:
		return Fatal
	}
}

// Error is a Code with the operation that produced it and an optional cause.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// StatusOf extracts the status code of err. A nil error is OK and an error
// that carries no code is reported as a BusError.
func StatusOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return BusError
}

// IsRetryable reports whether the transfer loop may try again after err.
func IsRetryable(err error) bool {
	return StatusOf(err).Class() == Retryable
}

func newError(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}
