package signaling

import (
	"net"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// Scheme represents a type of transport scheme. For the purposes of this
// project, we only provide constants for schemes relevant to HTTP and
// websockets.
type Scheme string

const (
	// HTTPS is the literal string, "https".
	HTTPS Scheme = "https"

	// HTTP is the literal string, "http".
	HTTP Scheme = "http"

	// WSS is the literal string, "wss".
	WSS Scheme = "wss"

	// WS is the literal string, "ws".
	WS Scheme = "ws"
)

// DefaultPath is the path the signaling backend serves its socket on.
const DefaultPath = "/ws"

// Conditionally encrypt the traffic depending on the initial scheme.
func setWebsocketURLScheme(u *url.URL, httpScheme Scheme) {
	if httpScheme == HTTPS || httpScheme == WSS {
		u.Scheme = string(WSS)
	} else {
		u.Scheme = string(WS)
	}
}

// ParseEndpoint validates a signaling endpoint URL. The ws and wss schemes
// are accepted as is, while http and https are rewritten to their socket
// equivalents. Every failure matches ErrInvalidEndpoint.
func ParseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, newError(KindInvalidEndpoint, errors.New("empty URL"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(KindInvalidEndpoint, errors.Wrap(err, "url parse failed"))
	}

	switch Scheme(u.Scheme) {
	case WS, WSS, HTTP, HTTPS:
		setWebsocketURLScheme(u, Scheme(u.Scheme))
	default:
		return nil, newError(KindInvalidEndpoint, errors.Errorf("unsupported scheme %q", u.Scheme))
	}

	if u.Hostname() == "" {
		return nil, newError(KindInvalidEndpoint, errors.Errorf("missing host in %q", raw))
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, newError(KindInvalidEndpoint, errors.Errorf("invalid port %q", p))
		}
	}

	return u, nil
}

// MakeEndpoint builds the canonical signaling URL for a backend, e.g.
// ws://127.0.0.1:8080/ws.
func MakeEndpoint(host string, port int, secure bool) string {
	var u url.URL

	if secure {
		u.Scheme = string(WSS)
	} else {
		u.Scheme = string(WS)
	}

	if port > 0 {
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	} else {
		u.Host = host
	}

	u.Path = DefaultPath

	return u.String()
}
