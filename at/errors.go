package at

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice is the generic failure of a Handler operation: no data before
	// the timeout, malformed data, a channel error or an ERROR final result
	// from the modem.
	//
	// It is sticky. Every following read or write fails with it until
	// ClearError is called.
	ErrDevice = errors.New("at: device error")

	// ErrUnsupported is recorded when an operation is not meaningful in the
	// current engine state, for example opening a second response scope or
	// registering a URC prefix that cannot fit in the receive buffer.
	ErrUnsupported = errors.New("at: unsupported operation")

	// ErrNoScope is returned by RespStop when no response scope is open.
	//
	// It is not sticky.
	ErrNoScope = errors.New("at: no response scope open")

	// ErrReentrant is returned when a URC handler calls back into the command
	// path of the Handler that is dispatching it. The call is rejected without
	// changing engine state.
	ErrReentrant = errors.New("at: command path entered from URC handler")
)

// ErrorKind is the generic part of the sticky error state.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindDevice
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindUnsupported:
		return "unsupported"
	default:
		return "ok"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindDevice:
		return ErrDevice
	case KindUnsupported:
		return ErrUnsupported
	}
	return nil
}

// DeviceErrorType tells which final result code reported a device error.
type DeviceErrorType int

const (
	DeviceErrNone DeviceErrorType = iota
	DeviceErrGeneric
	DeviceErrCME
	DeviceErrCMS
)

func (t DeviceErrorType) String() string {
	switch t {
	case DeviceErrGeneric:
		return "ERROR"
	case DeviceErrCME:
		return "+CME ERROR"
	case DeviceErrCMS:
		return "+CMS ERROR"
	default:
		return "none"
	}
}

// DeviceError is the error reported by the modem itself. Code is -1 when the
// modem sent plain ERROR or a verbose (non numeric) error text.
type DeviceError struct {
	Type DeviceErrorType
	Code int
}

// Error is the sticky error recorded by a Handler.
type Error struct {
	Kind   ErrorKind
	Device DeviceError
	// Reason is a short description of where the error was raised.
	Reason string
	// Cause is the channel error behind a device error, if any.
	Cause error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Device.Type != DeviceErrNone {
		msg = fmt.Sprintf("%s: %s %d", msg, e.Device.Type, e.Device.Code)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind.sentinel(), e.Cause}
	}
	return []error{e.Kind.sentinel()}
}
