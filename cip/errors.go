package cip

import "fmt"

// The stack distinguishes two failure kinds. A CommError means the
// transport or encapsulation layer is no longer trustworthy: the caller
// must drop the session and connection and reopen. A DataError means a
// single operation failed (bad reply bytes, unknown type, rejected
// service) but the session is still usable.

// Status is the structured (code, text) pair recorded by a driver before
// any error is returned, so callers can introspect after a handled
// failure.
type Status struct {
	Code int
	Text string
}

// Ok reports whether the status slot is clear.
func (s Status) Ok() bool {
	return s.Code == 0 && s.Text == ""
}

func (s Status) String() string {
	if s.Ok() {
		return "ok"
	}
	return fmt.Sprintf("(%d) %s", s.Code, s.Text)
}

// CommError is a communication failure: socket error, timeout, bad
// encapsulation status, command mismatch, or a missing session. It
// invalidates the session and connection state.
type CommError struct {
	Op  string // operation that failed
	Msg string
	Err error // underlying error, if any
}

func (e *CommError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *CommError) Unwrap() error { return e.Err }

// DataError is a data failure: malformed reply, unknown type code,
// unparseable address, pack/unpack overflow, or a PCCC/CIP error status.
// The session survives.
type DataError struct {
	Op  string
	Msg string
	Err error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *DataError) Unwrap() error { return e.Err }

// CommErrorf builds a CommError with a formatted message.
func CommErrorf(op, format string, args ...interface{}) *CommError {
	return &CommError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CommWrap builds a CommError wrapping an underlying error.
func CommWrap(op, msg string, err error) *CommError {
	return &CommError{Op: op, Msg: msg, Err: err}
}

// DataErrorf builds a DataError with a formatted message.
func DataErrorf(op, format string, args ...interface{}) *DataError {
	return &DataError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// DataWrap builds a DataError wrapping an underlying error.
func DataWrap(op, msg string, err error) *DataError {
	return &DataError{Op: op, Msg: msg, Err: err}
}
