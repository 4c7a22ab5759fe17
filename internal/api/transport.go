package api

import (
	"net"
	"net/http"
	"time"
)

// Transport tuning. The overall call budget is enforced by Execute; these
// only bound individual connection phases.
const (
	defaultConnectTimeout  = 10 * time.Second
	tlsHandshakeTimeout    = 10 * time.Second
	responseHeaderTimeout  = 60 * time.Second
	idleConnTimeout        = 90 * time.Second
	maxIdleConnsPerHost    = 8
	keepAliveProbeInterval = 30 * time.Second
)

// NewHTTPClient returns an HTTP client whose dial is bounded by
// connectTimeout. Zero selects the default.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepAliveProbeInterval,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = tlsHandshakeTimeout
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	transport.IdleConnTimeout = idleConnTimeout
	transport.MaxIdleConnsPerHost = maxIdleConnsPerHost

	return &http.Client{Transport: transport}
}
