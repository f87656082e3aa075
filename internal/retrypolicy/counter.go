// Package retrypolicy implements the bounded retry budget and
// linear-capped backoff that governs one retrieval's attempt loop.
package retrypolicy

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// TryLimit is the maximum number of retries a single retrieval may
// consume before giving up with MaxRetry.
const TryLimit = 20

// MaxRetryWait is the ceiling, in seconds, on the linear backoff applied
// between attempts.
const MaxRetryWait = 10 * time.Second

// Cause kinds passed to the OnRetry callback: a small fixed vocabulary
// safe to use as a metrics label. The free-form cause string only ever
// reaches the log line.
const (
	KindFailed     = "failed"     // no progress this attempt
	KindIncomplete = "incomplete" // some bytes progressed before the failure
	KindEncoding   = "encoding"   // Content-Encoding changed between attempts
	KindRestart    = "restart"    // resume rejected, starting over from byte zero
	KindTruncated  = "truncated"  // connection closed before Content-Length
)

// Exhausted is returned by Increment once the retry budget has been
// consumed.
type Exhausted struct {
	URL   string
	Cause string
}

func (e *Exhausted) Error() string {
	return "retrieval failed after " + strconv.Itoa(TryLimit) + " tries: " + e.Cause
}

// Counter is a bounded, monotonic retry budget. It is not reset during
// one retrieval; a fresh Counter is created per call to Retrieve.
type Counter struct {
	count   int
	logger  *slog.Logger
	onRetry func(kind string)
}

// New creates a Counter that logs through logger.
func New(logger *slog.Logger) *Counter {
	return &Counter{logger: logger}
}

// SetOnRetry installs a callback invoked once per consumed retry slot,
// after the slot is counted but before the backoff sleep — primarily
// for an operator-supplied metrics counter (see internal/metrics). It
// receives the bounded cause kind, never the free-form cause string. A
// nil fn disables the callback.
func (c *Counter) SetOnRetry(fn func(kind string)) {
	c.onRetry = fn
}

// Count returns the number of retries consumed so far.
func (c *Counter) Count() int { return c.count }

// ShouldRetry reports whether the budget has any slots left.
func (c *Counter) ShouldRetry() bool {
	return c.count < TryLimit
}

// Increment consumes one retry slot for url because of cause, logging
// "incomplete" progress when bytesRead > restval and "failed" otherwise.
// kind is the bounded classification handed to the OnRetry callback. It
// sleeps min(count, MaxRetryWait) before returning, unless the budget
// is now exhausted, in which case it returns *Exhausted instead of
// sleeping. ctx is honored while sleeping so a caller can cancel a
// retrieval that is backing off.
func (c *Counter) Increment(ctx context.Context, url string, bytesRead, restval int64, kind, cause string) error {
	c.count++
	if c.onRetry != nil {
		c.onRetry(kind)
	}

	status := "failed"
	if bytesRead > restval {
		status = "incomplete"
	}
	msg := "because of " + status + " retrieval: " + cause

	if !c.ShouldRetry() {
		c.logger.Warn("gave up", "url", url, "reason", msg)
		return &Exhausted{URL: url, Cause: cause}
	}

	c.logger.Info("retrying", "url", url, "attempt", c.count, "limit", TryLimit, "reason", msg)

	wait := time.Duration(c.count) * time.Second
	if wait > MaxRetryWait {
		wait = MaxRetryWait
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
