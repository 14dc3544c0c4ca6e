// Package util provides the shared HTTP clients, logging and CLI helpers used
// by both server binaries.
package util

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// UserAgent is the desktop Chrome identity presented to the source site, its
// CDN and the headless browser.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var (
	sharedClient     *http.Client
	sharedClientOnce sync.Once
)

// httpClientConfig holds configuration for creating optimized HTTP clients
type httpClientConfig struct {
	timeout               time.Duration
	maxIdleConns          int
	maxIdleConnsPerHost   int
	maxConnsPerHost       int
	idleConnTimeout       time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	expectContinue        time.Duration
	keepAlive             time.Duration
	dialTimeout           time.Duration
}

// defaultConfig is used for scraping requests against the source site.
func defaultConfig() httpClientConfig {
	return httpClientConfig{
		timeout:             10 * time.Second,
		maxIdleConns:        100,
		maxIdleConnsPerHost: 20,
		maxConnsPerHost:     40,
		idleConnTimeout:     90 * time.Second,
		tlsHandshakeTimeout: 5 * time.Second,
		expectContinue:      1 * time.Second,
		keepAlive:           30 * time.Second,
		dialTimeout:         5 * time.Second,
	}
}

// streamingConfig has no overall timeout: media bodies are unbounded, so only
// connection setup and the wait for response headers are bounded.
func streamingConfig(dialTimeout, headerTimeout time.Duration) httpClientConfig {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if headerTimeout <= 0 {
		headerTimeout = 20 * time.Second
	}
	return httpClientConfig{
		maxIdleConns:          50,
		maxIdleConnsPerHost:   10,
		idleConnTimeout:       60 * time.Second,
		tlsHandshakeTimeout:   dialTimeout,
		responseHeaderTimeout: headerTimeout,
		expectContinue:        1 * time.Second,
		keepAlive:             30 * time.Second,
		dialTimeout:           dialTimeout,
	}
}

// createTransport creates an HTTP transport with the given config
func createTransport(cfg httpClientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.dialTimeout,
			KeepAlive: cfg.keepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.maxIdleConns,
		MaxIdleConnsPerHost:   cfg.maxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.maxConnsPerHost,
		IdleConnTimeout:       cfg.idleConnTimeout,
		TLSHandshakeTimeout:   cfg.tlsHandshakeTimeout,
		ResponseHeaderTimeout: cfg.responseHeaderTimeout,
		ExpectContinueTimeout: cfg.expectContinue,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// GetSharedClient returns the shared HTTP client with connection pooling used
// for scraping HTML pages.
func GetSharedClient() *http.Client {
	sharedClientOnce.Do(func() {
		cfg := defaultConfig()
		sharedClient = &http.Client{
			Transport: createTransport(cfg),
			Timeout:   cfg.timeout,
		}
	})
	return sharedClient
}

// NewStreamingClient returns a client for relaying media bodies. Cancellation
// comes from the request context, not from a client-wide deadline.
func NewStreamingClient(dialTimeout, headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: createTransport(streamingConfig(dialTimeout, headerTimeout)),
	}
}
