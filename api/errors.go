// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the engine, the reactor and the client façade.

package api

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every *Error matches exactly one of them with errors.Is.
var (
	ErrSetup         = errors.New("setup error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransfer      = errors.New("transfer error")
	ErrScheduling    = errors.New("scheduling error")
)

// Common errors used across the library.
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrOperationAborted = errors.New("operation aborted")
)

// Kind classifies where a failure originated and how it is delivered.
type Kind int

const (
	// KindSetup is an engine or library initialisation failure. Fatal for
	// the client under construction.
	KindSetup Kind = iota + 1
	// KindConfiguration means the request parameters were rejected.
	KindConfiguration
	// KindTransfer means the engine finished the transfer with a non-OK code.
	KindTransfer
	// KindScheduling means the engine refused to register the transfer.
	KindScheduling
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindConfiguration:
		return "configuration"
	case KindTransfer:
		return "transfer"
	case KindScheduling:
		return "scheduling"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindSetup:
		return ErrSetup
	case KindConfiguration:
		return ErrConfiguration
	case KindTransfer:
		return ErrTransfer
	case KindScheduling:
		return ErrScheduling
	}
	return nil
}

// Error represents a structured error with kind, engine code and context.
type Error struct {
	Kind    Kind
	Code    int // engine result code, 0 when not applicable
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel of e.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError creates a new structured error.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCode records the engine result code.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// SetupError builds a KindSetup error wrapping err.
func SetupError(message string, err error) *Error {
	return NewError(KindSetup, message).Wrap(err)
}

// ConfigurationError builds a KindConfiguration error wrapping err.
func ConfigurationError(message string, err error) *Error {
	return NewError(KindConfiguration, message).Wrap(err)
}

// SchedulingError builds a KindScheduling error.
func SchedulingError(message string) *Error {
	return NewError(KindScheduling, message)
}

// TransferError builds a KindTransfer error carrying the engine code.
func TransferError(code int, message string) *Error {
	return NewError(KindTransfer, message).WithCode(code)
}
