// Package httputil provides the shared outbound HTTP clients used when
// forwarding traffic to managed servers, with pooled connections and
// size-bounded body reads.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps body reads when no sandbox limit applies. A
// compromised upstream must not be able to balloon memory with one response.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// One transport for every client so upstream connections are pooled across
// tiers.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// Tier selects a timeout class for an outbound call.
type Tier int

const (
	// TierProbe is for health probes and liveness checks (5s).
	TierProbe Tier = iota
	// TierProxy is for forwarded tool traffic (30s).
	TierProxy
	// TierBulk is for large transfers and report exports (60s).
	TierBulk
)

var tierTimeouts = map[Tier]time.Duration{
	TierProbe: 5 * time.Second,
	TierProxy: 30 * time.Second,
	TierBulk:  60 * time.Second,
}

var (
	clientsOnce sync.Once
	clients     map[Tier]*http.Client
)

// Client returns the shared client for a tier. Callers must not mutate the
// returned client; per-request deadlines belong on the request context.
func Client(tier Tier) *http.Client {
	clientsOnce.Do(func() {
		clients = make(map[Tier]*http.Client, len(tierTimeouts))
		for t, d := range tierTimeouts {
			clients[t] = &http.Client{Timeout: d, Transport: sharedTransport}
		}
	})
	if c, ok := clients[tier]; ok {
		return c
	}
	return clients[TierProxy]
}

// ReadBody reads a response body up to maxSize bytes. Pass a sandbox memory
// limit to enforce per-server caps; non-positive falls back to
// MaxResponseSize.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose empties and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
