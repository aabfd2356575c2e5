// Package httpx gives the daemon a single pooled *http.Client for every
// outbound call to a provider's token or revocation endpoint, instead of
// letting each account spin up its own connection pool.
package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// defaultHTTPTimeout is what SharedClient falls back to when asked for a
// non-positive timeout, matching §5's "HTTP requests: 30s default".
const defaultHTTPTimeout = 30 * time.Second

// A single-user broker only ever dials as many distinct hosts as there are
// configured providers — a handful, not the open-ended fleet of a
// multi-tenant integration runner — so the idle-connection ceilings are
// tuned down accordingly rather than left at a large shared-service default.
const (
	maxIdleConns        = 64
	maxIdleConnsPerHost = 16
	dialTimeout         = 10 * time.Second
	dialKeepAlive       = 30 * time.Second
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	expectContinue      = 1 * time.Second
)

var (
	transportOnce sync.Once
	transport     *http.Transport
	clientsMu     sync.Mutex
	clients       = map[time.Duration]*http.Client{}
)

// SharedClient returns an *http.Client with the given timeout, backed by a
// transport shared across every timeout value the daemon requests. Token
// refreshes and revocations against the same provider reuse its connections
// instead of renegotiating TLS on every call.
func SharedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if client, ok := clients[timeout]; ok {
		return client
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport(),
	}
	clients[timeout] = client
	return client
}

// sharedTransport lazily builds the one *http.Transport every SharedClient
// of every timeout shares, so provider connections pool across the whole
// daemon rather than per-timeout.
func sharedTransport() *http.Transport {
	transportOnce.Do(func() {
		dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: dialKeepAlive}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          maxIdleConns,
			MaxIdleConnsPerHost:   maxIdleConnsPerHost,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ExpectContinueTimeout: expectContinue,
		}
	})
	return transport
}
