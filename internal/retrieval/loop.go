// Package retrieval implements the retrieve loop and response processor
// that drive one resilient single-resource HTTP(S) fetch to completion:
// byte-range resumption across attempts, content-encoding continuity,
// partial-file management, and atomic finalization.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/webstalk-archive/retriever/internal/fsutil"
	"github.com/webstalk-archive/retriever/internal/hostregistry"
	"github.com/webstalk-archive/retriever/internal/retrlog"
	"github.com/webstalk-archive/retriever/internal/retrypolicy"
	"github.com/webstalk-archive/retriever/internal/transport"
)

// Options carries the per-retrieval options and the capabilities a
// caller injects: logging, connectivity probing, and the pool/registry
// this retrieval shares with any concurrent siblings.
type Options struct {
	// SSLVerify and UserAgent are not read by Retrieve: TLS
	// verification and the User-Agent header come from the config that
	// Pool was built from (transport.New). UseServerTimestamps governs
	// whether the remote mtime is applied to the finalized file.
	SSLVerify           bool
	UserAgent           string
	UseServerTimestamps bool

	// PostTimestamp, combined with the remote mtime by minimum, when
	// both are known.
	PostTimestamp *int64

	// AdjustBasename is invoked exactly once after download, before
	// rename, on a read-only view of the completed part file.
	AdjustBasename func(origBasename string, view io.ReaderAt, size int64) (string, error)

	Logger *slog.Logger

	// IsDNSWorking and NoInternetSignal distinguish "no internet" (spin
	// until connectivity returns) from a genuine HTTP error.
	IsDNSWorking     func(timeout time.Duration) bool
	NoInternetSignal <-chan struct{}

	Pool     *transport.Pool
	Registry *hostregistry.Registry

	// OnRetry and OnCondemn, when set, are invoked once per consumed
	// retry slot and once per newly condemned authority respectively —
	// plumbing for an operator-supplied metrics counter (see
	// internal/metrics) without internal/retrieval importing it
	// directly. OnRetry receives the bounded cause kind (one of
	// retrypolicy's Kind constants), never a free-form error string.
	OnRetry   func(kind string)
	OnCondemn func(authority string)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Retrieve fetches url into destPath, durably and atomically. Once the
// retrieve loop has started it returns the final HttpStat even on
// error, so callers can inspect bytes read and the last status code for
// diagnostics; a bad URL scheme, an unopenable destination directory or
// a nil opts.Pool returns a nil HttpStat.
func Retrieve(ctx context.Context, rawURL, destPath string, opts Options) (*HttpStat, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &BadProtocol{URL: rawURL, Scheme: ""}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &BadProtocol{URL: rawURL, Scheme: u.Scheme}
	}

	registry := opts.Registry
	if registry == nil {
		registry = hostregistry.New()
	}
	pool := opts.Pool

	destDirPath, destBasename := fsutil.Split(destPath)
	dir, err := fsutil.OpenDir(destDirPath)
	if err != nil {
		return nil, fmt.Errorf("retrieval: open destination directory: %w", err)
	}

	hstat := &HttpStat{CurrentURL: rawURL, DestDir: dir, destBasename: destBasename}
	var partPath string
	hstat.makePartFile = func() (*os.File, error) {
		f, err := fsutil.CreateTempFile(destDirPath, destBasename)
		if err != nil {
			return nil, err
		}
		hstat.partBasename = filepathBase(f.Name())
		partPath = f.Name()
		return f, nil
	}

	defer func() {
		dir.Close()
		hstat.dropDecoder()
		if hstat.PartFile != nil {
			hstat.PartFile.Close()
		}
		if partPath != "" {
			fsutil.TryUnlink(partPath)
		}
	}()

	logger := retrlog.New(opts.logger(), rawURL)
	retries := retrypolicy.New(opts.logger())
	retries.SetOnRetry(opts.OnRetry)

	if pool == nil {
		return nil, fmt.Errorf("retrieval: no connection pool adapter configured")
	}

	currentURL := rawURL

	for {
		hstat.Restval = hstat.BytesRead

		resp, err := pool.Get(ctx, currentURL, hstat.Restval)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return hstat, err
			}
			var unreach *transport.ErrUnreachableHost
			isUnreach := errors.As(err, &unreach)
			alreadyKnown := isUnreach && unreach.AlreadyKnown
			if !alreadyKnown && opts.IsDNSWorking != nil && opts.NoInternetSignal != nil && !opts.IsDNSWorking(5*time.Second) {
				// Not a genuine HTTP error and not the host's fault: with
				// DNS down there is no internet, so spin on the no-internet
				// signal rather than condemning the authority or spending a
				// retry slot.
				select {
				case <-opts.NoInternetSignal:
				case <-ctx.Done():
					return hstat, ctx.Err()
				}
				continue
			}
			if isUnreach {
				if !unreach.AlreadyKnown && registry.Condemn(unreach.Authority) && opts.OnCondemn != nil {
					opts.OnCondemn(unreach.Authority)
				}
				return hstat, &UnreachableHost{URL: currentURL, Authority: unreach.Authority, Err: err}
			}
			if incErr := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retryKind(hstat), err.Error()); incErr != nil {
				return hstat, wrapExhausted(currentURL, incErr)
			}
			continue
		}

		if resp.CurrentURL != currentURL {
			currentURL = resp.CurrentURL
			hstat.CurrentURL = currentURL
		}

		v, err := processResponse(ctx, resp, hstat, logger, retries, registry, currentURL, opts.OnCondemn)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return hstat, err
			}
			// A budget exhaustion inside the processor (steps 4/8) is
			// already terminal; don't spend another slot on it.
			var exhausted *retrypolicy.Exhausted
			if errors.As(err, &exhausted) {
				return hstat, wrapExhausted(currentURL, err)
			}
			if isFatal(err) {
				return hstat, err
			}
			if incErr := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retryKind(hstat), err.Error()); incErr != nil {
				return hstat, wrapExhausted(currentURL, incErr)
			}
			continue
		}

		switch v {
		case retrUnneeded:
			return hstat, nil
		case retrIncomplete:
			continue
		case retrFinished:
			if hstat.Contlen != nil && hstat.BytesRead < *hstat.Contlen {
				if incErr := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retrypolicy.KindTruncated, "Server closed connection before Content-Length was reached"); incErr != nil {
					return hstat, wrapExhausted(currentURL, incErr)
				}
				continue
			}
			if err := finalize(hstat, destBasename, opts); err != nil {
				return hstat, err
			}
			partPath = ""
			return hstat, nil
		}
	}
}

// retryKind buckets a transport failure for the retry metric by whether
// the attempt progressed at all.
func retryKind(hstat *HttpStat) string {
	if hstat.BytesRead > hstat.Restval {
		return retrypolicy.KindIncomplete
	}
	return retrypolicy.KindFailed
}

// wrapExhausted translates a retry-counter failure: budget exhaustion
// becomes MaxRetry; a context cancellation during the backoff sleep
// propagates unchanged.
func wrapExhausted(url string, err error) error {
	var exhausted *retrypolicy.Exhausted
	if errors.As(err, &exhausted) {
		return &MaxRetry{URL: url, Err: err}
	}
	return err
}

// isFatal reports whether err is one of the typed errors that must
// propagate out of Retrieve immediately, without consuming a retry slot:
// BadProtocol, UnreachableHost, BadResponse (and its WrongCode/RangeError
// subtypes), and MaxRetry itself.
func isFatal(err error) bool {
	switch err.(type) {
	case *BadProtocol, *UnreachableHost, *BadResponse, *WrongCode, *RangeError, *MaxRetry:
		return true
	default:
		return false
	}
}

func filepathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}

// finalize publishes the completed part file: permissions, timestamp,
// the basename-adjustment hook, fsync, close, rename, directory
// fdatasync — in that order, so the rename is durable across a crash.
func finalize(hstat *HttpStat, destBasename string, opts Options) error {
	f := hstat.PartFile
	if f == nil {
		return fmt.Errorf("retrieval: finalize called with no part file")
	}

	if err := fsutil.Fchmod(f); err != nil {
		return fmt.Errorf("retrieval: chmod part file: %w", err)
	}

	if opts.UseServerTimestamps && hstat.RemoteTime == nil {
		if hstat.LastModified == "" {
			opts.logger().Warn("server timestamp missing", "url", hstat.CurrentURL)
		} else {
			opts.logger().Warn("server timestamp invalid", "url", hstat.CurrentURL, "raw", hstat.LastModified)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("retrieval: flush part file: %w", err)
	}

	if opts.UseServerTimestamps && (hstat.RemoteTime != nil || opts.PostTimestamp != nil) {
		mtime := applyMinTimestamp(hstat.RemoteTime, opts.PostTimestamp)
		if mtime != nil {
			t := time.Unix(*mtime, 0)
			if err := os.Chtimes(f.Name(), t, t); err != nil {
				return fmt.Errorf("retrieval: apply remote timestamp: %w", err)
			}
		}
	}

	finalBasename := destBasename
	if opts.AdjustBasename != nil {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("retrieval: stat part file: %w", err)
		}
		view, err := os.Open(f.Name())
		if err != nil {
			return fmt.Errorf("retrieval: open read-only view: %w", err)
		}
		finalBasename, err = opts.AdjustBasename(destBasename, view, info.Size())
		view.Close()
		if err != nil {
			return fmt.Errorf("retrieval: adjust_basename: %w", err)
		}
	}

	if err := fsutil.Fsync(f); err != nil {
		return fmt.Errorf("retrieval: fsync part file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("retrieval: close part file: %w", err)
	}
	hstat.PartFile = nil

	if err := hstat.DestDir.Rename(hstat.partBasename, finalBasename); err != nil {
		return fmt.Errorf("retrieval: rename into place: %w", err)
	}
	if err := hstat.DestDir.Fdatasync(); err != nil {
		return fmt.Errorf("retrieval: fdatasync destination directory: %w", err)
	}
	return nil
}

func applyMinTimestamp(remote, post *int64) *int64 {
	switch {
	case remote != nil && post != nil:
		if *remote < *post {
			return remote
		}
		return post
	case remote != nil:
		return remote
	case post != nil:
		return post
	default:
		return nil
	}
}
