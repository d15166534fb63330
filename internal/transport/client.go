package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

const (
	// checkProxyTimeout bounds the SOCKS5 handshake performed by CheckConnection.
	checkProxyTimeout = 2 * time.Second

	// maxRedirects is the number of redirects followed before the last
	// response is returned as is.
	maxRedirects = 10
)

// Client creates HTTP clients that reach the web either directly or through
// a SOCKS5 proxy.
//
// Design decision: One Client owns one http.Transport. Every HTTP client it
// creates shares that transport, so page fetches, probes and downloads of a
// crawl reuse the same connection pool.
type Client struct {
	// proxyAddress is the SOCKS5 proxy address in "host:port" format.
	// It is empty for direct clients.
	proxyAddress string

	// dialer is the SOCKS5 dialer, or nil for direct connections.
	dialer proxy.Dialer

	// timeout is the overall timeout of HTTP clients created by this client.
	// Zero means no client level timeout.
	timeout time.Duration

	// transport is shared by all HTTP clients created by this client.
	transport *http.Transport
}

// NewDirectClient creates a client that connects to hosts directly.
func NewDirectClient(timeout time.Duration) *Client {
	c := &Client{timeout: timeout}
	c.transport = c.newTransport()
	return c
}

// NewClient creates a client that routes every connection through the SOCKS5
// proxy at proxyAddress, e.g. "127.0.0.1:9050" for a local Tor daemon.
//
// The address format is validated, but the proxy is not contacted.
// Call CheckConnection to verify it.
func NewClient(proxyAddress string, timeout time.Duration) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require authentication.
	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	c := &Client{
		proxyAddress: proxyAddress,
		dialer:       dialer,
		timeout:      timeout,
	}
	c.transport = c.newTransport()
	return c, nil
}

// isValidProxyAddress reports whether address is "host:port" with a
// non-empty host and a port between 1 and 65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// IsProxied reports whether connections go through a SOCKS5 proxy.
func (c *Client) IsProxied() bool {
	return c.dialer != nil
}

// ProxyAddress returns the configured proxy address, or "" for direct clients.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5TestHost is used for the CONNECT request of the handshake check.
	// The .invalid TLD never resolves, so no real host is contacted.
	socks5TestHost = "connectivity-check.invalid"
)

// CheckConnection verifies that the proxy is reachable and speaks SOCKS5
// without authentication. Direct clients always report ProxyStatusOK.
//
// The check sends a SOCKS5 greeting followed by a CONNECT request. Any
// SOCKS5 reply to the CONNECT, including a failure code, counts as success.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	if !c.IsProxied() {
		return ProxyStatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: version, one method, no authentication.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	// 0xFF means every offered method was refused; Tor never asks for auth.
	if authResp[1] == socks5AuthNoAccept {
		return ProxyStatusWrongType
	}
	if authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	const testPort = 80
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(socks5TestHost)),
	}
	connectReq = append(connectReq, socks5TestHost...)
	connectReq = append(connectReq, byte(testPort>>8), byte(testPort&0xFF))

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + reply + reserved + address type
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// DialContext opens a TCP connection to address, through the proxy when
// one is configured.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if c.dialer == nil {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newTransport builds the shared transport.
//
// Design decisions:
//   - The pool is kept small because a crawl talks to few hosts and proxied
//     connections each hold a Tor circuit.
//   - Compression is disabled so that response sizes do not leak content
//     through the proxy.
func (c *Client) newTransport() *http.Transport {
	t := &http.Transport{
		DialContext:           c.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}
	return t
}

// HTTPOption configures an HTTP client created by NewHTTPClient.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	scope    string
	cookie   string
	headers  map[string]string
	insecure bool
}

// WithSiteScope limits the site options (cookie, headers, insecure TLS) to
// requests whose host is domain or one of its subdomains. A leading "www."
// is ignored. Without a scope the site options are never applied.
func WithSiteScope(domain string) HTTPOption {
	return func(o *httpOptions) {
		o.scope = normalizeHost(domain)
	}
}

// WithCookie adds a raw cookie string, e.g. "session=abc123", to every
// in-scope request.
func WithCookie(cookie string) HTTPOption {
	return func(o *httpOptions) {
		o.cookie = cookie
	}
}

// WithHeaders sets the given headers on every in-scope request.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(o *httpOptions) {
		o.headers = headers
	}
}

// WithInsecureTLS disables certificate verification for in-scope hosts.
// Only meant for sites with self-signed certificates the operator has
// chosen to trust.
func WithInsecureTLS(insecure bool) HTTPOption {
	return func(o *httpOptions) {
		o.insecure = insecure
	}
}

// NewHTTPClient creates an HTTP client that uses this client's connectivity.
//
// The returned client keeps cookies in a jar that respects the public suffix
// list and follows at most ten redirects. After that the last redirect
// response is returned instead of an error.
func (c *Client) NewHTTPClient(opts ...HTTPOption) *http.Client {
	var o httpOptions
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = c.transport
	if o.scope != "" && (o.cookie != "" || len(o.headers) > 0 || o.insecure) {
		st := &siteTransport{
			base:    c.transport,
			site:    c.transport,
			scope:   o.scope,
			cookie:  o.cookie,
			headers: o.headers,
		}
		if o.insecure {
			t := c.transport.Clone()
			t.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // opt-in per site
			}
			st.site = t
		}
		rt = st
	}

	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}) //nolint:errcheck // cookiejar.New never fails

	return &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// CloseIdleConnections closes idle connections of the shared transport.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// siteTransport applies the site options to requests for hosts in scope.
// Other hosts, such as PDF mirrors or redirect targets on another domain,
// go through base untouched.
//
// Design decision: Injecting in the RoundTripper covers redirects as well,
// which per-request header setting would miss. The scope is checked on
// every hop.
type siteTransport struct {
	base    http.RoundTripper
	site    http.RoundTripper
	scope   string
	cookie  string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *siteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.inScope(req.URL.Host) {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}
	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}

	return t.site.RoundTrip(clone)
}

func (t *siteTransport) inScope(host string) bool {
	h := normalizeHost(host)
	return h != "" && (h == t.scope || strings.HasSuffix(h, "."+t.scope))
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
}
