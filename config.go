package signaling

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	scraper "github.com/carterjones/go-cloudflare-scraper"
	"github.com/pkg/errors"
)

// Environment variables read by ConfigFromEnv and EndpointFromEnv.
const (
	EnvURL              = "SIGNALING_URL"
	EnvHandshakeTimeout = "SIGNALING_HANDSHAKE_TIMEOUT"
	EnvWriteTimeout     = "SIGNALING_WRITE_TIMEOUT"
	EnvReadLimit        = "SIGNALING_READ_LIMIT"
	EnvProxy            = "SIGNALING_PROXY"
)

// DefaultReadLimit caps the size of a single inbound frame.
const DefaultReadLimit = 1 << 20

// Config holds the settings shared by the transports in this package.
type Config struct {
	// The maximum time to wait for the opening handshake. Zero means no
	// timeout, which is the default.
	HandshakeTimeout time.Duration

	// The maximum time a single write may take. Zero means no timeout.
	WriteTimeout time.Duration

	// The maximum size in bytes of an inbound frame. Zero or less means
	// no limit, for both transports.
	ReadLimit int64

	// Header values that should be applied to the opening handshake.
	Headers map[string]string

	// An optional setting to provide a non-default TLS configuration to use
	// when connecting to the websocket.
	TLSClientConfig *tls.Config

	// Proxy selects the proxy for the handshake request. When nil, the
	// proxy is taken from the environment.
	Proxy func(*http.Request) (*url.URL, error)

	// HTTPClient is used for plain HTTP requests to the signaling backend,
	// e.g. a login before connecting. Its cookie jar is shared with every
	// handshake, so cookies it collects (including CloudFlare clearance
	// cookies) are presented when the socket opens, and cookies set during
	// a handshake are presented on the next one.
	HTTPClient *http.Client
}

// DefaultConfig returns the default transport settings. The HTTPClient
// supports CloudFlare-protected sites.
func DefaultConfig() Config {
	cfTransport := scraper.NewTransport(http.DefaultTransport)

	return Config{
		ReadLimit: DefaultReadLimit,
		Headers:   make(map[string]string),
		HTTPClient: &http.Client{
			Transport: cfTransport,
			Jar:       cfTransport.Cookies,
		},
	}
}

// ConfigFromEnv returns DefaultConfig overridden by any SIGNALING_*
// environment variables that are set.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv(EnvHandshakeTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", EnvHandshakeTimeout)
		}
		cfg.HandshakeTimeout = d
	}

	if v, ok := os.LookupEnv(EnvWriteTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", EnvWriteTimeout)
		}
		cfg.WriteTimeout = d
	}

	if v, ok := os.LookupEnv(EnvReadLimit); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", EnvReadLimit)
		}
		cfg.ReadLimit = n
	}

	if v, ok := os.LookupEnv(EnvProxy); ok && v != "" {
		u, err := url.Parse(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", EnvProxy)
		}
		cfg.Proxy = http.ProxyURL(u)
	}

	return cfg, nil
}

// EndpointFromEnv returns the endpoint named by SIGNALING_URL, or fallback
// when it is unset or empty.
func EndpointFromEnv(fallback string) string {
	if v := os.Getenv(EnvURL); v != "" {
		return v
	}
	return fallback
}

func (cfg Config) proxy() func(*http.Request) (*url.URL, error) {
	if cfg.Proxy != nil {
		return cfg.Proxy
	}
	return http.ProxyFromEnvironment
}

func (cfg Config) jar() http.CookieJar {
	if cfg.HTTPClient == nil {
		return nil
	}
	return cfg.HTTPClient.Jar
}

func (cfg Config) header() http.Header {
	header := make(http.Header)
	for k, v := range cfg.Headers {
		header.Add(k, v)
	}
	return header
}
