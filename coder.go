package signaling

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
)

// coderTransport is a Transport built on coder/websocket. Unlike gorilla,
// its reads and writes take a context directly.
type coderTransport struct {
	cfg Config

	conn    *websocket.Conn
	closed  bool
	connMux sync.Mutex
}

// NewCoderTransport returns a Transport backed by coder/websocket.
func NewCoderTransport(cfg Config) Transport {
	return &coderTransport{cfg: cfg}
}

// CoderTransportFactory returns a TransportFactory producing
// coder/websocket transports configured with cfg.
func CoderTransportFactory(cfg Config) TransportFactory {
	return func() Transport { return NewCoderTransport(cfg) }
}

func (t *coderTransport) snapshot() (*websocket.Conn, bool) {
	t.connMux.Lock()
	defer t.connMux.Unlock()
	return t.conn, t.closed
}

func (t *coderTransport) Open(ctx context.Context, endpoint *url.URL) error {
	if conn, closed := t.snapshot(); conn != nil || closed {
		return errors.New("transport already used")
	}

	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{
		HTTPHeader: t.cfg.header(),
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           t.cfg.proxy(),
				TLSClientConfig: t.cfg.TLSClientConfig,
			},
			Jar: t.cfg.jar(),
		},
	}

	conn, resp, err := websocket.Dial(ctx, endpoint.String(), opts)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "%v", resp.Status)
		}
		return errors.Wrap(err, "dial failed")
	}

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	} else {
		// coder/websocket defaults to 32 KiB; -1 lifts the limit.
		conn.SetReadLimit(-1)
	}

	t.connMux.Lock()
	if t.closed {
		t.connMux.Unlock()
		_ = conn.CloseNow()
		return errors.Wrap(ErrTransportClosed, "closed during open")
	}
	t.conn = conn
	t.connMux.Unlock()

	return nil
}

func (t *coderTransport) ReceiveFrame(ctx context.Context) (Frame, error) {
	conn, closed := t.snapshot()
	if closed {
		return Frame{}, ErrTransportClosed
	}
	if conn == nil {
		return Frame{}, errors.New("transport not open")
	}

	mt, p, err := conn.Read(ctx)
	if err != nil {
		return Frame{}, t.readError(err)
	}

	switch mt {
	case websocket.MessageText:
		return Frame{Kind: FrameText, Data: p}, nil
	case websocket.MessageBinary:
		return Frame{Kind: FrameBinary, Data: p}, nil
	default:
		return Frame{Kind: FrameUnknown, Data: p}, nil
	}
}

func (t *coderTransport) readError(err error) error {
	if _, closed := t.snapshot(); closed {
		return errors.Wrapf(ErrTransportClosed, "%v", err)
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return errors.Wrapf(ErrTransportClosed, "%v", err)
	case -1:
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrapf(ErrAbnormalClosure, "%v", err)
		}
		return errors.Wrap(err, "read failed")
	default:
		return errors.Wrapf(ErrAbnormalClosure, "%v", err)
	}
}

func (t *coderTransport) SendFrame(ctx context.Context, payload string) error {
	conn, closed := t.snapshot()
	if closed {
		return errors.Wrap(ErrTransportClosed, "send")
	}
	if conn == nil {
		return errors.New("transport not open")
	}

	if t.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.WriteTimeout)
		defer cancel()
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		return errors.Wrap(err, "write failed")
	}

	return nil
}

func (t *coderTransport) Close(code int, reason string) error {
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

	err := conn.Close(websocket.StatusCode(code), reason)
	if err != nil && websocket.CloseStatus(err) == -1 {
		// The handshake could not complete; make sure the socket is gone.
		_ = conn.CloseNow()
		return errors.Wrap(err, "close failed")
	}
	return nil
}
