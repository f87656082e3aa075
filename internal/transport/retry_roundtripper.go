package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/webstalk-archive/retriever/internal/hostregistry"
)

// retryRoundTripper wraps a base http.RoundTripper with a bounded,
// purely transport-level retry: a small budget
// (cfg.Retry.TransportRetries), never exercised on a connect failure (that propagates
// immediately so the caller can condemn the host), exercised on a
// force-retry status list with linear backoff, and on a Retry-After
// status list honoring the server's requested delay. This budget is
// independent of and exhausted well before the outer 20-slot retry
// counter in internal/retrypolicy.
type retryRoundTripper struct {
	base           http.RoundTripper
	registry       *hostregistry.Registry
	retries        int
	forceList      map[int]bool
	retryAfterList map[int]bool
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	authority := hostregistry.AuthorityFor(req.URL.Scheme, req.URL.Hostname(), req.URL.Port())

	var lastErr error
	for attempt := 0; attempt <= rt.retries; attempt++ {
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			if isConnectError(err) {
				// Never retried here: the retrieve loop treats this as
				// an unreachable-host condition and condemns authority.
				return nil, &ErrUnreachableHost{Authority: authority, ConnectFailure: true, Cause: err}
			}
			lastErr = err
			if attempt == rt.retries {
				return nil, lastErr
			}
			time.Sleep(backoff(attempt))
			continue
		}

		if attempt == rt.retries {
			return resp, nil
		}

		if rt.retryAfterList[resp.StatusCode] {
			wait, ok := retryAfter(resp.Header.Get("Retry-After"))
			drainAndClose(resp)
			if !ok {
				wait = backoff(attempt)
			}
			time.Sleep(wait)
			continue
		}

		if rt.forceList[resp.StatusCode] {
			drainAndClose(resp)
			time.Sleep(backoff(attempt))
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 200 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func retryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func asUnreachable(err error) (*ErrUnreachableHost, bool) {
	var uh *ErrUnreachableHost
	if errors.As(err, &uh) {
		return uh, true
	}
	return nil, false
}
