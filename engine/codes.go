// File: engine/codes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Result codes, multi-handle codes and socket poll actions.

package engine

import "fmt"

// SocketTimeout is the pseudo socket passed to SocketAction for timer ticks.
const SocketTimeout = -1

// PollAction is the readiness interest the engine reports for a socket,
// and the readiness the caller reports back to SocketAction.
type PollAction int

const (
	PollNone PollAction = iota
	PollIn
	PollOut
	PollInOut
	PollRemove
)

func (a PollAction) String() string {
	switch a {
	case PollNone:
		return "none"
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollInOut:
		return "inout"
	case PollRemove:
		return "remove"
	}
	return fmt.Sprintf("PollAction(%d)", int(a))
}

// Readable reports whether a includes read interest.
func (a PollAction) Readable() bool { return a == PollIn || a == PollInOut }

// Writable reports whether a includes write interest.
func (a PollAction) Writable() bool { return a == PollOut || a == PollInOut }

// Code is the terminal result of a transfer.
type Code int

const (
	OK Code = iota
	UnsupportedProtocol
	URLMalformat
	CouldNotResolveHost
	CouldNotConnect
	WeirdServerReply
	OperationTimedOut
	SendError
	RecvError
	GotNothing
	FilesizeExceeded
	BadFunctionArgument
	AbortedByCallback
)

var codeText = map[Code]string{
	OK:                  "No error",
	UnsupportedProtocol: "Unsupported protocol",
	URLMalformat:        "URL using bad/illegal format or missing URL",
	CouldNotResolveHost: "Couldn't resolve host name",
	CouldNotConnect:     "Couldn't connect to server",
	WeirdServerReply:    "Weird server reply",
	OperationTimedOut:   "Timeout was reached",
	SendError:           "Failed sending data to the peer",
	RecvError:           "Failure when receiving data from the peer",
	GotNothing:          "Server returned nothing (no headers, no data)",
	FilesizeExceeded:    "Maximum file size exceeded",
	BadFunctionArgument: "A function was given a bad argument",
	AbortedByCallback:   "Operation was aborted by an application callback",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (%d)", int(c))
}

// MultiCode is the status of a multi-handle call.
type MultiCode int

const (
	MultiOK MultiCode = iota
	MultiBadHandle
	MultiBadEasyHandle
	MultiInternalError
	MultiBadSocket
	MultiUnknownOption
	MultiAddedAlready
	MultiRecursiveAPICall
	MultiBadArgument
	MultiMaxTransfers
)

var multiText = map[MultiCode]string{
	MultiOK:               "No error",
	MultiBadHandle:        "Invalid multi handle",
	MultiBadEasyHandle:    "Invalid easy handle",
	MultiInternalError:    "Internal error",
	MultiBadSocket:        "Invalid socket argument",
	MultiUnknownOption:    "Unknown option",
	MultiAddedAlready:     "The easy handle is already added to a multi handle",
	MultiRecursiveAPICall: "API function called from within callback",
	MultiBadArgument:      "A bad argument was passed",
	MultiMaxTransfers:     "Too many concurrent transfers",
}

func (c MultiCode) String() string {
	if s, ok := multiText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown multi error (%d)", int(c))
}

// Err returns nil for MultiOK and a MultiError otherwise.
func (c MultiCode) Err() error {
	if c == MultiOK {
		return nil
	}
	return &MultiError{Code: c}
}

// MultiError wraps a failing MultiCode.
type MultiError struct {
	Code MultiCode
}

func (e *MultiError) Error() string {
	return fmt.Sprintf("engine multi: %s", e.Code)
}
