// Package transport builds the HTTP clients used for crawling.
//
// A Client either dials directly or routes every connection through a
// SOCKS5 proxy, which may be an external Tor daemon or one started by
// EmbeddedTor. The HTTP clients it creates share one connection pool per
// Client, keep cookies in a jar scoped by the public suffix list, follow at
// most ten redirects, and can inject a site cookie and custom headers into
// every request.
//
// The package is designed to be used with dependency injection - create a
// Client and pass its HTTP client to the components that fetch pages rather
// than using global state.
package transport
