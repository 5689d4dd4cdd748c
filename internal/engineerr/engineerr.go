// Package engineerr defines the error taxonomy for the collaboration
// engine (spec.md §7). Each Kind maps to a wire-level reply the session
// router sends back; unlike an HTTP API's status-coded errors, the mapping
// target here is an ERROR frame or a failed *_ACK frame, not an HTTP status.
package engineerr

import "fmt"

// Kind enumerates the signalled error categories from spec.md §7.
type Kind int

const (
	// MalformedFrame: wrong field count, bad TYPE, non-integer numeric
	// field. Reply ERROR; session survives.
	MalformedFrame Kind = iota
	// AuthRequired: edit attempted before authentication. Reply ERROR;
	// session survives.
	AuthRequired
	// NotOpen: edit targets a file not in the session's open_files. Reply
	// ERROR; session survives.
	NotOpen
	// InvalidArguments: missing position/length/text. Reply ERROR; session
	// survives.
	InvalidArguments
	// OperationRejected: the engine clamped and still could not place the
	// op. Not expected under the clamping rules; treated as internal.
	OperationRejected
	// NotFound: FILE_OPEN/FILE_DELETE for an unknown id. Reply ERROR;
	// session survives.
	NotFound
	// Busy: FILE_DELETE with more than one participant. Reply
	// FILE_DELETE_ACK{fail}; session survives.
	Busy
	// IoFailure: socket or disk I/O. Session closes; document persistence
	// logs and continues.
	IoFailure
	// Internal: any uncaught panic/exception in a handler. Caught at the
	// session boundary, logged, reply ERROR, session survives unless the
	// socket itself died.
	Internal
)

func (k Kind) String() string {
	switch k {
	case MalformedFrame:
		return "MalformedFrame"
	case AuthRequired:
		return "AuthRequired"
	case NotOpen:
		return "NotOpen"
	case InvalidArguments:
		return "InvalidArguments"
	case OperationRejected:
		return "OperationRejected"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case IoFailure:
		return "IoFailure"
	default:
		return "Internal"
	}
}

// Error is a taxonomy-tagged error. Handlers type-assert or use As to
// recover the Kind when deciding how to reply on the wire.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a taxonomy error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error that carries an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}
