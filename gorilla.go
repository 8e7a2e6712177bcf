package signaling

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// closeWait bounds the time spent writing the close frame.
const closeWait = time.Second

// websocketTransport is the default Transport, built on gorilla/websocket.
type websocketTransport struct {
	cfg    Config
	dialer *websocket.Dialer

	// conn and closed are guarded by connMux. gorilla allows one reader
	// and one writer at a time, so writes are serialized by writeMux.
	conn     *websocket.Conn
	closed   bool
	connMux  sync.Mutex
	writeMux sync.Mutex
}

// NewWebsocketTransport returns a Transport backed by gorilla/websocket.
// The handshake uses the cookie jar of cfg.HTTPClient.
func NewWebsocketTransport(cfg Config) Transport {
	// Create a dialer that uses the supplied TLS client configuration.
	dialer := &websocket.Dialer{
		Proxy:           cfg.proxy(),
		TLSClientConfig: cfg.TLSClientConfig,
		Jar:             cfg.jar(),
	}

	return &websocketTransport{cfg: cfg, dialer: dialer}
}

// WebsocketTransportFactory returns a TransportFactory producing gorilla
// transports configured with cfg.
func WebsocketTransportFactory(cfg Config) TransportFactory {
	return func() Transport { return NewWebsocketTransport(cfg) }
}

func (t *websocketTransport) snapshot() (*websocket.Conn, bool) {
	t.connMux.Lock()
	defer t.connMux.Unlock()
	return t.conn, t.closed
}

func (t *websocketTransport) Open(ctx context.Context, endpoint *url.URL) error {
	if conn, closed := t.snapshot(); conn != nil || closed {
		return errors.New("transport already used")
	}

	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint.String(), t.cfg.header())
	if err != nil {
		// According to documentation at
		// https://godoc.org/github.com/gorilla/websocket#Dialer.Dial
		// details of a failed handshake reside in the response.
		if resp != nil {
			return errors.Wrapf(err, "%v", resp.Status)
		}
		return errors.Wrap(err, "dial failed")
	}

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	t.connMux.Lock()
	if t.closed {
		// Close was requested while the handshake was in flight.
		t.connMux.Unlock()
		_ = conn.Close()
		return errors.Wrap(ErrTransportClosed, "closed during open")
	}
	t.conn = conn
	t.connMux.Unlock()

	return nil
}

func (t *websocketTransport) ReceiveFrame(ctx context.Context) (Frame, error) {
	conn, closed := t.snapshot()
	if closed {
		return Frame{}, ErrTransportClosed
	}
	if conn == nil {
		return Frame{}, errors.New("transport not open")
	}

	// ReadMessage has no context of its own, so a cancelled receive tears
	// the socket down to unblock it.
	stop := context.AfterFunc(ctx, func() {
		_ = t.Close(CloseGoingAway, "receive cancelled")
	})
	defer stop()

	mt, p, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, t.readError(err)
	}

	switch mt {
	case websocket.TextMessage:
		return Frame{Kind: FrameText, Data: p}, nil
	case websocket.BinaryMessage:
		return Frame{Kind: FrameBinary, Data: p}, nil
	default:
		return Frame{Kind: FrameUnknown, Data: p}, nil
	}
}

func (t *websocketTransport) readError(err error) error {
	if _, closed := t.snapshot(); closed {
		return errors.Wrapf(ErrTransportClosed, "%v", err)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return errors.Wrapf(ErrTransportClosed, "%v", err)
	}

	// gorilla reports a vanished peer as close code 1006.
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return errors.Wrapf(ErrAbnormalClosure, "%v", err)
	}
	return errors.Wrap(err, "read failed")
}

func (t *websocketTransport) SendFrame(ctx context.Context, payload string) error {
	conn, closed := t.snapshot()
	if closed {
		return errors.Wrap(ErrTransportClosed, "send")
	}
	if conn == nil {
		return errors.New("transport not open")
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "send")
	}

	t.writeMux.Lock()
	defer t.writeMux.Unlock()

	var deadline time.Time
	if t.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(t.cfg.WriteTimeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline failed")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return errors.Wrap(err, "write failed")
	}

	return nil
}

func (t *websocketTransport) Close(code int, reason string) error {
	t.connMux.Lock()
	if t.closed {
		t.connMux.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.connMux.Unlock()

	if conn == nil {
		return nil
	}

	// Let the peer know why we are leaving. The socket is torn down below
	// regardless of whether the close frame made it out.
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))

	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "close failed")
	}
	return nil
}
