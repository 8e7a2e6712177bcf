package signaling

import (
	"context"
	"net/url"
)

// FrameKind identifies the type of a raw frame.
type FrameKind int

const (
	// FrameUnknown is any frame the transport could not map to text or
	// binary.
	FrameUnknown FrameKind = iota

	// FrameText is a UTF-8 text frame.
	FrameText

	// FrameBinary is a binary frame.
	FrameBinary
)

// Frame is one discrete unit of data read from the socket.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Close codes used when closing a socket.
//
// https://tools.ietf.org/html/rfc6455#section-7.4.1
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// Transport is the interface that wraps a single bidirectional socket.
//
// Open dials the endpoint and blocks until the socket is usable or the
// attempt fails. A nil return is the "opened" signal.
//
// ReceiveFrame waits for exactly one inbound frame. Once the socket has
// been closed normally, by either side, it returns an error matching
// ErrTransportClosed. Any other error is a transport failure. Callers
// re-invoke it to keep receiving.
//
// SendFrame writes one text frame. A failed write does not close the
// socket.
//
// Close requests the socket to close with the given code. It is idempotent
// and makes a pending ReceiveFrame return.
//
// A Transport never retries or reconnects, and it serves exactly one
// socket for its whole life.
type Transport interface {
	Open(ctx context.Context, endpoint *url.URL) error
	ReceiveFrame(ctx context.Context) (Frame, error)
	SendFrame(ctx context.Context, payload string) error
	Close(code int, reason string) error
}

// TransportFactory builds a fresh Transport for each connection attempt.
type TransportFactory func() Transport
