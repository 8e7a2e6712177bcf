package signaling

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind categorizes the failures reported by a Connection.
type ErrorKind int

const (
	// KindInvalidEndpoint is returned by New when the endpoint URL is
	// malformed. No Connection is produced.
	KindInvalidEndpoint ErrorKind = iota

	// KindOpenFailed means the transport could not open the socket.
	KindOpenFailed

	// KindSendFailed means an outbound frame was rejected or could not be
	// written.
	KindSendFailed

	// KindReceiveFailed means the receive loop hit a transport failure.
	KindReceiveFailed

	// KindDisconnected means the socket was closed. Cause is only set for
	// abnormal closures.
	KindDisconnected
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidEndpoint:
		return "invalid endpoint"
	case KindOpenFailed:
		return "transport open failed"
	case KindSendFailed:
		return "transport send failed"
	case KindReceiveFailed:
		return "transport receive failed"
	case KindDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Error is the error type returned and published by a Connection.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. This lets the
// kind sentinels below be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for matching an *Error by kind with errors.Is.
var (
	ErrInvalidEndpoint = &Error{Kind: KindInvalidEndpoint}
	ErrOpenFailed      = &Error{Kind: KindOpenFailed}
	ErrSendFailed      = &Error{Kind: KindSendFailed}
	ErrReceiveFailed   = &Error{Kind: KindReceiveFailed}
	ErrDisconnected    = &Error{Kind: KindDisconnected}
)

var (
	// ErrNotConnected is the cause of a send attempted outside the
	// Connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrTransportClosed is returned by a Transport once the socket has
	// been closed normally, by either side.
	ErrTransportClosed = errors.New("transport closed")

	// ErrAbnormalClosure is wrapped by a Transport when the socket went
	// away without a normal close handshake, e.g. the peer dropped the TCP
	// stream or closed with an error code.
	ErrAbnormalClosure = errors.New("abnormal closure")
)

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Cause returns the underlying cause of err, following both *Error and
// github.com/pkg/errors wrappers.
func Cause(err error) error {
	for err != nil {
		se, ok := err.(*Error)
		if !ok || se.Cause == nil {
			break
		}
		err = se.Cause
	}
	return errors.Cause(err)
}
