// Package transport implements the connection pool adapter: an HTTP(S)
// client that fails fast on condemned hosts, treats 300 as a redirect
// alongside the usual 301/302/303/307/308, and exposes each response's
// effective post-redirect URL.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/webstalk-archive/retriever/internal/config"
	"github.com/webstalk-archive/retriever/internal/decoder"
	"github.com/webstalk-archive/retriever/internal/hostregistry"
)

// redirectStatuses are the statuses this adapter follows, extending the
// stdlib's set with 300 Multiple Choices.
var redirectStatuses = map[int]bool{
	300: true, 301: true, 302: true, 303: true, 307: true, 308: true,
}

// Defaults holds the request header set applied to every GET, built
// once per Pool rather than mutated through a package-level global.
type Defaults struct {
	UserAgent      string
	AcceptEncoding string
}

// Pool is the connection pool adapter. A Pool may be shared across
// concurrent retrievals; the embedded *http.Client and Registry are
// both safe for concurrent use.
type Pool struct {
	client       *http.Client
	registry     *hostregistry.Registry
	defaults     Defaults
	maxRedirects int
	chunkSize    int
}

// New builds a Pool from cfg, condemning requests to any authority
// already marked unreachable in registry. cfg.Retry governs the
// transport-level retry budget and status lists; cfg.Fetch governs
// everything else.
func New(cfg *config.Config, registry *hostregistry.Registry) *Pool {
	fetch := &cfg.Fetch
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        fetch.MaxIdleConns,
		MaxIdleConnsPerHost: max(fetch.MaxIdleConns/2, 1),
		IdleConnTimeout:     fetch.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !fetch.SSLVerify,
		},
		// Raw bytes are decoded ourselves so the resumable decoder can
		// keep a single decompressor instance alive across attempts.
		DisableCompression: true,
	}

	rt := &retryRoundTripper{
		base:           base,
		registry:       registry,
		retries:        cfg.Retry.TransportRetries,
		forceList:      toStatusSet(cfg.Retry.ForceRetryStatus),
		retryAfterList: toStatusSet(cfg.Retry.RetryAfterStatus),
	}

	ua := fetch.UserAgent
	if ua == "" {
		ua = "retriever/" + config.Version
	}

	return &Pool{
		client: &http.Client{
			Transport: rt,
			Timeout:   fetch.RequestTimeout,
			// We implement our own redirect loop (below) so 300 can be
			// treated as a redirect; net/http's CheckRedirect is never
			// consulted for a 300 response.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		registry: registry,
		defaults: Defaults{
			UserAgent:      ua,
			AcceptEncoding: decoder.AcceptEncodingHeader(),
		},
		maxRedirects: fetch.MaxRedirects,
		chunkSize:    fetch.ChunkSize,
	}
}

// toStatusSet builds a membership set from a configured status list.
func toStatusSet(statuses []int) map[int]bool {
	set := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}

// Response wraps one HTTP response with the extra state the response
// processor needs beyond the stdlib type: the effective URL it was
// produced from, after following any redirects, and the configured
// chunk size the processor should read the body in (tunable via
// fetch.chunk_size).
type Response struct {
	*http.Response

	CurrentURL string
	ChunkSize  int
}

// ErrUnreachableHost is returned by Get when the target authority is
// condemned, or when a connect-level failure occurs; ConnectFailure
// distinguishes the two so callers can decide whether to condemn the
// host themselves.
type ErrUnreachableHost struct {
	Authority      string
	AlreadyKnown   bool
	ConnectFailure bool
	Cause          error
}

func (e *ErrUnreachableHost) Error() string {
	if e.AlreadyKnown {
		return fmt.Sprintf("host %s is ignored", e.Authority)
	}
	return fmt.Sprintf("error connecting to host %s: %v", e.Authority, e.Cause)
}

func (e *ErrUnreachableHost) Unwrap() error { return e.Cause }

// Get issues one GET to rawURL, optionally with a Range header when
// restval > 0, following redirects (including 300) up to maxRedirects
// times. The returned Response's Body must be closed by the caller.
func (p *Pool) Get(ctx context.Context, rawURL string, restval int64) (*Response, error) {
	current := rawURL

	for hop := 0; ; hop++ {
		u, err := url.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("transport: parse URL: %w", err)
		}
		authority := hostregistry.Authority(u)
		if p.registry.IsCondemned(authority) {
			return nil, &ErrUnreachableHost{Authority: authority, AlreadyKnown: true}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("transport: build request: %w", err)
		}
		req.Header.Set("Connection", "keep-alive")
		req.Header.Set("Accept-Encoding", p.defaults.AcceptEncoding)
		req.Header.Set("User-Agent", p.defaults.UserAgent)
		if restval > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", restval))
		}

		resp, err := p.client.Do(req)
		if err != nil {
			if uh, ok := asUnreachable(err); ok {
				uh.Authority = authority
				return nil, uh
			}
			return nil, err
		}

		if redirectStatuses[resp.StatusCode] {
			loc := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("transport: redirect status %d with no Location", resp.StatusCode)
			}
			if hop >= p.maxRedirects {
				return nil, fmt.Errorf("transport: max redirects (%d) reached", p.maxRedirects)
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("transport: parse redirect Location: %w", err)
			}
			current = next.String()
			continue
		}

		return &Response{Response: resp, CurrentURL: current, ChunkSize: p.chunkSize}, nil
	}
}

// CloseIdleConnections releases pooled connections.
func (p *Pool) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
