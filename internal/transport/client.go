package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// DefaultTimeout bounds every outbound request when Options.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// Options configures the outbound client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// UTLS dials TLS with a Chrome ClientHello fingerprint. Such
	// connections ignore HTTP(S)_PROXY.
	UTLS bool
}

// Client is an http.Client that stamps a fixed User-Agent on every request.
type Client struct {
	client    *http.Client
	userAgent string
}

// NewClient builds the shared client used for provider and page fetches.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(opts.UTLS),
		},
		userAgent: opts.UserAgent,
	}
}

// Do sends req, setting User-Agent when the caller left it empty.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

// HTTPClient returns a plain *http.Client with the same behaviour, for
// libraries that only accept one (oauth2 reads it from the context).
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Timeout:   c.client.Timeout,
		Transport: &userAgentRoundTripper{next: c.client.Transport, userAgent: c.userAgent},
	}
}

type userAgentRoundTripper struct {
	next      http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", rt.userAgent)
	}
	return rt.next.RoundTrip(req)
}

func newTransport(useUTLS bool) http.RoundTripper {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	// A proxied request tunnels through CONNECT and does its own TLS,
	// which would skip DialTLSContext. uTLS connections always go direct.
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		DialTLSContext:      dialUTLS,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// chromeHTTP1Spec is the Chrome 120 ClientHello with ALPN narrowed to
// http/1.1, since http.Transport cannot speak h2 over a custom TLS conn.
func chromeHTTP1Spec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}

func dialUTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	spec, err := chromeHTTP1Spec()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host := addr
	if strings.Contains(addr, ":") {
		host, _, _ = net.SplitHostPort(addr)
	}
	uconn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := uconn.ApplyPreset(spec); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return uconn, nil
}
