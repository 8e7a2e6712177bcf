package signaling_test

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/gorilla/websocket"
	"github.com/pingmeet/signaling"
	"github.com/pingmeet/signaling/command"
	"github.com/pkg/errors"
)

const testTimeout = 5 * time.Second

func red(s string) string {
	return "\033[31m" + s + "\033[39m"
}

func equals(tb testing.TB, id string, exp, act interface{}) {
	if !reflect.DeepEqual(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		tb.Errorf(red("%s:%d %s: \n\texp: %#v\n\tgot: %#v\n"),
			filepath.Base(file), line, id, exp, act)
	}
}

func ok(tb testing.TB, id string, err error) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		tb.Errorf(red("%s:%d %s | unexpected error: %s\n"),
			filepath.Base(file), line, id, err.Error())
	}
}

func notNil(tb testing.TB, id string, act interface{}) {
	if act == nil || reflect.ValueOf(act).IsNil() {
		_, file, line, _ := runtime.Caller(1)
		tb.Errorf(red("%s:%d (%s):\n\texp: a non-nil value\n\tgot: %#v\n"),
			filepath.Base(file), line, id, act)
	}
}

// Note: this is largely derived from
// https://github.com/golang/go/blob/1c69384da4fb4a1323e011941c101189247fea67/src/net/http/response_test.go#L915-L940
func errMatches(tb testing.TB, id string, err error, wantErr interface{}) {
	if err == nil {
		if wantErr == nil {
			return
		}

		if sub, ok := wantErr.(string); ok {
			tb.Errorf(red("%s | unexpected success; want error with substring %q"), id, sub)
			return
		}

		tb.Errorf(red("%s | unexpected success; want error %v"), id, wantErr)
		return
	}

	if wantErr == nil {
		tb.Errorf(red("%s | %v; want success"), id, err)
		return
	}

	if sub, ok := wantErr.(string); ok {
		if strings.Contains(err.Error(), sub) {
			return
		}
		tb.Errorf(red("%s | error = %v; want an error with substring %q"), id, err, sub)
		return
	}

	if errors.Is(err, wantErr.(error)) {
		return
	}

	tb.Errorf(red("%s | %v; want %v"), id, err, wantErr)
}

func wsURL(ts *httptest.Server) string {
	u := strings.Replace(ts.URL, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + signaling.DefaultPath
}

// transports lists every Transport implementation the connection is
// exercised against.
func transports(cfg signaling.Config) map[string]signaling.TransportFactory {
	return map[string]signaling.TransportFactory{
		"gorilla": signaling.WebsocketTransportFactory(cfg),
		"coder":   signaling.CoderTransportFactory(cfg),
	}
}

type watcher struct {
	states chan signaling.ConnectionState
	msgs   chan signaling.InboundMessage
}

func watch(c *signaling.Connection) *watcher {
	w := &watcher{
		states: make(chan signaling.ConnectionState, 64),
		msgs:   make(chan signaling.InboundMessage, 64),
	}
	c.SubscribeState(func(s signaling.ConnectionState) { w.states <- s })
	c.SubscribeMessages(func(m signaling.InboundMessage) { w.msgs <- m })
	return w
}

func (w *watcher) expect(tb testing.TB, id string, phases ...signaling.Phase) []signaling.ConnectionState {
	tb.Helper()
	var got []signaling.ConnectionState
	for i, p := range phases {
		select {
		case s := <-w.states:
			if s.Phase != p {
				tb.Fatalf(red("%s | state %d: exp %s, got %s"), id, i, p, s)
			}
			got = append(got, s)
		case <-time.After(testTimeout):
			tb.Fatalf(red("%s | state %d: timed out waiting for %s"), id, i, p)
		}
	}
	return got
}

func (w *watcher) expectQuiet(tb testing.TB, id string) {
	tb.Helper()
	select {
	case s := <-w.states:
		tb.Fatalf(red("%s | unexpected state %s"), id, s)
	case <-time.After(100 * time.Millisecond):
	}
}

func (w *watcher) next(tb testing.TB, id string) signaling.InboundMessage {
	tb.Helper()
	select {
	case m := <-w.msgs:
		return m
	case <-time.After(testTimeout):
		tb.Fatalf(red("%s | timed out waiting for a message"), id)
	}
	return signaling.InboundMessage{}
}

func TestNew(t *testing.T) {
	cases := map[string]struct {
		endpoint string
		exp      string
		wantErr  string
	}{
		"ws":               {endpoint: "ws://127.0.0.1:8080/ws", exp: "ws://127.0.0.1:8080/ws"},
		"wss":              {endpoint: "wss://signal.example.com/ws", exp: "wss://signal.example.com/ws"},
		"http is upgraded": {endpoint: "http://localhost:8080/ws", exp: "ws://localhost:8080/ws"},
		"https is secured": {endpoint: "https://localhost/ws", exp: "wss://localhost/ws"},
		"empty":            {endpoint: "", wantErr: "empty URL"},
		"garbage":          {endpoint: "not a url", wantErr: "unsupported scheme"},
		"bad scheme":       {endpoint: "ftp://localhost/ws", wantErr: "unsupported scheme"},
		"missing host":     {endpoint: "ws:///ws", wantErr: "missing host"},
		"bad port":         {endpoint: "ws://localhost:99999/ws", wantErr: "invalid port"},
		"control chars":    {endpoint: "ws://local\x7fhost/ws", wantErr: "url parse failed"},
	}

	for id, tc := range cases {
		c, err := signaling.New(tc.endpoint, nil)
		if tc.wantErr != "" {
			errMatches(t, id, err, tc.wantErr)
			errMatches(t, id, err, signaling.ErrInvalidEndpoint)
			equals(t, id, (*signaling.Connection)(nil), c)
			continue
		}

		ok(t, id, err)
		notNil(t, id, c)
		equals(t, id, tc.exp, c.Endpoint().String())
		equals(t, id, signaling.Disconnected, c.State().Phase)
		equals(t, id, true, c.ID() != "")
	}
}

func TestNew_CustomID(t *testing.T) {
	c, err := signaling.New("ws://localhost/ws", &signaling.Options{CustomID: "lobby"})
	ok(t, "new", err)
	equals(t, "id", "lobby", c.ID())
}

func TestMakeEndpoint(t *testing.T) {
	equals(t, "plain", "ws://127.0.0.1:8080/ws", signaling.MakeEndpoint("127.0.0.1", 8080, false))
	equals(t, "tls", "wss://signal.example.com:443/ws", signaling.MakeEndpoint("signal.example.com", 443, true))
	equals(t, "no port", "ws://localhost/ws", signaling.MakeEndpoint("localhost", 0, false))
	equals(t, "ipv6", "ws://[::1]:9000/ws", signaling.MakeEndpoint("::1", 9000, false))
}

func TestConnection_EchoParticipants(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		ts := httptest.NewServer(http.HandlerFunc(signaling.TestEchoHandler))
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)

		err = c.SendCommand(context.Background(), command.GetParticipants)
		ok(t, id, err)

		m := w.next(t, id)
		equals(t, id, signaling.MessageText, m.Kind)
		equals(t, id, "GET PARTICIPANTS", m.Text)
		equals(t, id, false, m.Timestamp.IsZero())

		select {
		case extra := <-w.msgs:
			t.Errorf(red("%s | unexpected extra message %+v"), id, extra)
		case <-time.After(100 * time.Millisecond):
		}

		c.Disconnect()
		w.expect(t, id, signaling.Disconnected)
		c.Wait()
		w.expectQuiet(t, id)
	}
}

func TestConnection_FrameKinds(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		ts := httptest.NewServer(http.HandlerFunc(signaling.TestGreetingHandler))
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)

		first := w.next(t, id)
		equals(t, id, signaling.MessageText, first.Kind)
		equals(t, id, "WELCOME", first.Text)

		second := w.next(t, id)
		equals(t, id, signaling.MessageBinary, second.Kind)
		equals(t, id, []byte{0x01, 0x02}, second.Data)

		c.Disconnect()
		c.Wait()
	}
}

func TestConnection_RemoteNormalClose(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		ts := httptest.NewServer(http.HandlerFunc(signaling.TestCloseHandler))
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		got := w.expect(t, id,
			signaling.Disconnected,
			signaling.Connecting,
			signaling.Connected,
			signaling.Disconnected,
		)
		equals(t, id, (*signaling.Error)(nil), got[3].Reason)

		c.Wait()
		w.expectQuiet(t, id)

		err = c.Send(context.Background(), "GET PARTICIPANTS")
		errMatches(t, id, err, signaling.ErrNotConnected)
	}
}

func TestConnection_RemoteAbort(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		ts := httptest.NewServer(http.HandlerFunc(signaling.TestAbortHandler))
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		got := w.expect(t, id,
			signaling.Disconnected,
			signaling.Connecting,
			signaling.Connected,
			signaling.Errored,
		)
		notNil(t, id, got[3].Reason)

		c.Wait()
		w.expectQuiet(t, id)
	}
}

func TestConnection_OpenFailed(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		got := w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Errored)
		errMatches(t, id, got[2].Reason, signaling.ErrOpenFailed)
		errMatches(t, id, got[2].Reason, "404")

		c.Wait()
		w.expectQuiet(t, id)
	}
}

func TestConnection_RetryAfterError(t *testing.T) {
	for id, factory := range transports(signaling.DefaultConfig()) {
		var hits int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			signaling.TestEchoHandler(w, r)
		}))
		defer ts.Close()

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Errored)

		c.Connect()
		w.expect(t, id, signaling.Connecting, signaling.Connected)

		ok(t, id, c.Send(context.Background(), "ping"))
		equals(t, id, "ping", w.next(t, id).Text)

		c.Disconnect()
		c.Wait()
		equals(t, id, int32(2), atomic.LoadInt32(&hits))
	}
}

func TestConnection_TLS(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	// Trust the test server certificate.
	cfg := signaling.DefaultConfig()
	cfg.TLSClientConfig = ts.Client().Transport.(*http.Transport).TLSClientConfig.Clone()

	for id, factory := range transports(cfg) {
		// The https URL is rewritten to wss.
		c, err := signaling.New(ts.URL+signaling.DefaultPath, &signaling.Options{Transport: factory})
		ok(t, id, err)
		equals(t, id, "wss", c.Endpoint().Scheme)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)

		ok(t, id, c.Send(context.Background(), "secure"))
		equals(t, id, "secure", w.next(t, id).Text)

		c.Disconnect()
		c.Wait()
	}
}

func TestConnection_TLSUntrusted(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	cfg := signaling.DefaultConfig()
	cfg.TLSClientConfig = &tls.Config{}

	c, err := signaling.New(ts.URL, &signaling.Options{Transport: signaling.WebsocketTransportFactory(cfg)})
	ok(t, "new", err)
	w := watch(c)

	c.Connect()
	got := w.expect(t, "untrusted", signaling.Disconnected, signaling.Connecting, signaling.Errored)
	errMatches(t, "untrusted", got[2].Reason, signaling.ErrOpenFailed)
	errMatches(t, "untrusted", got[2].Reason, "certificate")
	c.Wait()
}

func TestConnection_Proxy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	var tunnels int32
	proxy := goproxy.NewProxyHttpServer()
	proxy.OnRequest().HandleConnectFunc(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		atomic.AddInt32(&tunnels, 1)
		return goproxy.OkConnect, host
	})
	ps := httptest.NewServer(proxy)
	defer ps.Close()

	proxyURL, err := url.Parse(ps.URL)
	ok(t, "proxy url", err)

	cfg := signaling.DefaultConfig()
	cfg.Proxy = http.ProxyURL(proxyURL)

	c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: signaling.WebsocketTransportFactory(cfg)})
	ok(t, "new", err)
	w := watch(c)

	c.Connect()
	w.expect(t, "proxy", signaling.Disconnected, signaling.Connecting, signaling.Connected)

	ok(t, "send", c.Send(context.Background(), "GET PARTICIPANTS"))
	equals(t, "echo", "GET PARTICIPANTS", w.next(t, "proxy").Text)

	c.Disconnect()
	c.Wait()
	equals(t, "tunnels", int32(1), atomic.LoadInt32(&tunnels))
}

func TestConnection_Headers(t *testing.T) {
	tokens := make(chan string, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.Header.Get("X-Meeting-Token")
		signaling.TestEchoHandler(w, r)
	}))
	defer ts.Close()

	cfg := signaling.DefaultConfig()
	cfg.Headers["X-Meeting-Token"] = "secret"

	for id, factory := range transports(cfg) {
		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)
		equals(t, id, "secret", <-tokens)

		c.Disconnect()
		c.Wait()
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	u, err := url.Parse(wsURL(ts))
	ok(t, "url", err)

	for id, factory := range transports(signaling.DefaultConfig()) {
		tr := factory()

		// Closing before opening is allowed.
		ok(t, id+" close unopened", tr.Close(signaling.CloseNormalClosure, ""))

		tr = factory()
		ok(t, id+" open", tr.Open(context.Background(), u))
		ok(t, id+" send", tr.SendFrame(context.Background(), "hi"))

		f, err := tr.ReceiveFrame(context.Background())
		ok(t, id+" receive", err)
		equals(t, id+" frame", signaling.Frame{Kind: signaling.FrameText, Data: []byte("hi")}, f)

		ok(t, id+" close", tr.Close(signaling.CloseNormalClosure, "done"))
		ok(t, id+" close again", tr.Close(signaling.CloseNormalClosure, "done"))

		_, err = tr.ReceiveFrame(context.Background())
		errMatches(t, id+" receive after close", err, signaling.ErrTransportClosed)

		err = tr.SendFrame(context.Background(), "late")
		errMatches(t, id+" send after close", err, signaling.ErrTransportClosed)

		err = tr.Open(context.Background(), u)
		errMatches(t, id+" reopen", err, "already used")
	}
}

func TestTransport_CloseUnblocksReceive(t *testing.T) {
	// The server never writes, so the receive can only end by closing.
	ts := httptest.NewServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	u, err := url.Parse(wsURL(ts))
	ok(t, "url", err)

	for id, factory := range transports(signaling.DefaultConfig()) {
		tr := factory()
		ok(t, id+" open", tr.Open(context.Background(), u))

		errs := make(chan error, 1)
		go func() {
			_, err := tr.ReceiveFrame(context.Background())
			errs <- err
		}()

		time.Sleep(50 * time.Millisecond)
		ok(t, id+" close", tr.Close(signaling.CloseNormalClosure, ""))

		select {
		case err := <-errs:
			errMatches(t, id, err, signaling.ErrTransportClosed)
		case <-time.After(testTimeout):
			t.Fatalf(red("%s | receive still pending after close"), id)
		}
	}
}

// cookieHandler sets a clearance cookie on every handshake and a session
// cookie on any plain HTTP request. Cookie headers seen on handshakes are
// sent to seen.
func cookieHandler(seen chan<- string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "xyz", Path: "/"})
			return
		}

		seen <- r.Header.Get("Cookie")
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, http.Header{"Set-Cookie": {"cf_clearance=abc; Path=/"}})
		if err != nil {
			panic(err)
		}
		go func() {
			defer c.Close()
			for {
				if _, _, rerr := c.ReadMessage(); rerr != nil {
					return
				}
			}
		}()
	}
}

func TestConnection_CookiesSharedAcrossHandshakes(t *testing.T) {
	for _, id := range []string{"gorilla", "coder"} {
		seen := make(chan string, 4)
		ts := httptest.NewServer(cookieHandler(seen))
		defer ts.Close()

		// Each transport gets its own jar.
		cfg := signaling.DefaultConfig()
		factory := transports(cfg)[id]

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: factory})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)
		c.Disconnect()
		w.expect(t, id, signaling.Disconnected)

		c.Connect()
		w.expect(t, id, signaling.Connecting, signaling.Connected)
		c.Disconnect()
		c.Wait()

		equals(t, id+" first handshake", "", <-seen)
		second := <-seen
		equals(t, id+" second handshake", true, strings.Contains(second, "cf_clearance=abc"))
	}
}

func TestConnection_HTTPClientCookiesReachHandshake(t *testing.T) {
	for _, id := range []string{"gorilla", "coder"} {
		seen := make(chan string, 4)
		ts := httptest.NewServer(cookieHandler(seen))
		defer ts.Close()

		cfg := signaling.DefaultConfig()

		// A login through the CloudFlare-aware client fills the shared jar.
		resp, err := cfg.HTTPClient.Get(ts.URL + "/login")
		ok(t, id+" login", err)
		ok(t, id+" close body", resp.Body.Close())

		c, err := signaling.New(wsURL(ts), &signaling.Options{Transport: transports(cfg)[id]})
		ok(t, id, err)
		w := watch(c)

		c.Connect()
		w.expect(t, id, signaling.Disconnected, signaling.Connecting, signaling.Connected)
		c.Disconnect()
		c.Wait()

		equals(t, id+" handshake cookie", "session=xyz", <-seen)
	}
}

func TestTransport_UnlimitedReadLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(signaling.TestEchoHandler))
	defer ts.Close()

	u, err := url.Parse(wsURL(ts))
	ok(t, "url", err)

	cfg := signaling.DefaultConfig()
	cfg.ReadLimit = 0

	// Larger than coder/websocket's 32 KiB default.
	payload := strings.Repeat("x", 64<<10)

	for id, factory := range transports(cfg) {
		tr := factory()
		ok(t, id+" open", tr.Open(context.Background(), u))
		ok(t, id+" send", tr.SendFrame(context.Background(), payload))

		f, err := tr.ReceiveFrame(context.Background())
		ok(t, id+" receive", err)
		equals(t, id+" size", len(payload), len(f.Data))

		ok(t, id+" close", tr.Close(signaling.CloseNormalClosure, ""))
	}
}
