package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/webstalk-archive/retriever/internal/contentrange"
	"github.com/webstalk-archive/retriever/internal/decoder"
	"github.com/webstalk-archive/retriever/internal/hostregistry"
	"github.com/webstalk-archive/retriever/internal/retrlog"
	"github.com/webstalk-archive/retriever/internal/retrypolicy"
	"github.com/webstalk-archive/retriever/internal/transport"
)

// verdict is the tri-state outcome of processing one attempt's response.
type verdict int

const (
	retrIncomplete verdict = iota // loop again
	retrUnneeded                  // nothing to do, return without finalizing
	retrFinished                  // done, proceed to finalization
)

// defaultChunkSize bounds one decoded read when the pool adapter didn't
// advertise a configured size. In practice resp.ChunkSize is always set
// by transport.Pool from fetch.chunk_size (internal/config).
const defaultChunkSize = 1 << 20

// cloudflareUnreachableStatus is the set of Cloudflare origin-unreachable
// statuses (521 Web Server Is Down, 522 Connection Timed Out, 523 Origin
// Is Unreachable, 525/526 SSL failures) that condemn the authority.
var cloudflareUnreachableStatus = map[int]bool{
	521: true, 522: true, 523: true, 525: true, 526: true,
}

// processResponse validates one attempt's response and streams its body
// to hstat's part file, as a sequence of ordered, short-circuiting
// checks. currentURL is the effective URL resp was produced from. onCondemn,
// if non-nil, is invoked when this attempt newly condemns an authority
// (the Cloudflare-origin-error branch of step 7).
func processResponse(ctx context.Context, resp *transport.Response, hstat *HttpStat, logger *retrlog.Logger, retries *retrypolicy.Counter, registry *hostregistry.Registry, currentURL string, onCondemn func(authority string)) (verdict, error) {
	defer resp.Body.Close()

	// Step 1: multipart guard.
	if ct := resp.Header.Get("Content-Type"); isMultipartByteranges(ct) {
		return 0, &BadResponse{URL: currentURL, Message: "server sent multipart/byteranges to a single-range request"}
	}

	// Step 2: length discovery.
	var contlen *int64
	if resp.ContentLength >= 0 && methodAllowsBody(resp) {
		n := resp.ContentLength
		contlen = &n
	}
	var contrange int64
	rangeHeaderPresent := resp.Header.Get("Content-Range") != ""
	var rangeUnparseable bool
	if rng, ok := contentrange.Parse(resp.Header.Get("Content-Range")); ok {
		contrange = rng.First
		length := rng.Last - rng.First + 1
		contlen = &length
	} else if rangeHeaderPresent {
		rangeUnparseable = true
	}

	// Step 3: timestamp.
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		lastModified = resp.Header.Get("X-Archive-Orig-last-modified")
	}
	hstat.LastModified = lastModified
	hstat.RemoteTime = nil
	if lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			sec := t.Unix()
			hstat.RemoteTime = &sec
		}
	}

	// Step 4: encoding continuity.
	tokens := decoder.NormalizeTokens(resp.Header.Get("Content-Encoding"))
	if hstat.Restval > 0 && hstat.Decoder != nil && !hstat.Decoder.Matches(tokens) {
		// Restart from byte zero: BytesRead is zeroed too, after the
		// increment (so the logged cause still reflects the progress that
		// is being discarded) — otherwise the next loop iteration's
		// hstat.Restval = hstat.BytesRead would restore the stale offset.
		hstat.Restval = 0
		hstat.dropDecoder()
		if err := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retrypolicy.KindEncoding, "Inconsistent Content-Encoding"); err != nil {
			return 0, err
		}
		hstat.BytesRead = 0
		return retrIncomplete, nil
	}
	hstat.RemoteEncoding = tokens
	hstat.EncIsIdentity = decoder.IsIdentity(tokens)

	// Step 5: status classification.
	hstat.Statcode = resp.StatusCode
	retrokf := resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != 207

	// Step 6: 204. Still materializes an (empty) part file so finalization
	// has something to chmod and rename.
	if resp.StatusCode == http.StatusNoContent {
		if _, err := hstat.ensurePartFile(); err != nil {
			return 0, fmt.Errorf("retrieval: create part file: %w", err)
		}
		hstat.BytesRead = 0
		hstat.Restval = 0
		hstat.dropDecoder()
		return retrFinished, nil
	}

	// Step 7: non-OK. A 416 falls through to the shrink handling below
	// instead of failing here: the remote being shorter than restval is a
	// recoverable condition, not a wrong code.
	if !retrokf && resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		wc := newWrongCode(currentURL, resp.StatusCode, http.StatusText(resp.StatusCode), resp.Header)
		if strings.EqualFold(resp.Header.Get("Server"), "cloudflare") && cloudflareUnreachableStatus[resp.StatusCode] {
			authority := currentURL
			if u, err := url.Parse(currentURL); err == nil {
				authority = hostregistry.Authority(u)
			}
			if registry.Condemn(authority) && onCondemn != nil {
				onCondemn(authority)
			}
			return 0, &UnreachableHost{URL: currentURL, Authority: authority, Err: wc}
		}
		return 0, wc
	}

	// Step 8: shrink detection. Both branches restart from byte zero, so
	// BytesRead is reset alongside Restval — otherwise the next loop
	// iteration's hstat.Restval = hstat.BytesRead would undo the restart.
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		hstat.Restval = 0
		hstat.dropDecoder()
		if err := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retrypolicy.KindRestart, "Resume with Range failed, must start over"); err != nil {
			return 0, err
		}
		hstat.BytesRead = 0
		return retrIncomplete, nil
	}
	if resp.StatusCode == http.StatusOK && contlen != nil && *contlen != 0 && contrange == 0 && hstat.Restval >= *contlen {
		hstat.Restval = 0
		hstat.dropDecoder()
		if err := retries.Increment(ctx, currentURL, hstat.BytesRead, hstat.Restval, retrypolicy.KindRestart, "Resume with Range failed, must start over"); err != nil {
			return 0, err
		}
		hstat.BytesRead = 0
		return retrIncomplete, nil
	}

	// Step 9: range sanity.
	if contrange != 0 && contrange != hstat.Restval {
		return 0, newRangeError(currentURL, "content-range start does not match the requested offset")
	}
	if resp.StatusCode == http.StatusPartialContent && hstat.Restval > 0 && contrange == 0 {
		qualifier := "numerically zero"
		if !rangeHeaderPresent {
			qualifier = "missing"
		} else if rangeUnparseable {
			qualifier = "unparseable"
		}
		return 0, newRangeError(currentURL, "Content-Range "+qualifier)
	}

	// Step 10: commit expectations.
	if contlen != nil {
		total := *contlen + contrange
		hstat.Contlen = &total
	}

	// Step 11: zero-length OK. Unreachable in practice: every non-OK
	// status has already returned by step 7 or 8.
	if !retrokf {
		hstat.BytesRead = 0
		hstat.Restval = 0
		hstat.dropDecoder()
		return retrFinished, nil
	}

	// Step 12: skip strategy.
	var bytesToSkip int64
	if hstat.Restval > 0 && contrange == 0 {
		bytesToSkip = hstat.Restval
	}

	// Step 13: resume decoder. The skip, if any, discards raw wire bytes
	// before they reach the decompressor, not decoded output: BytesRead
	// and Contlen are both wire-byte quantities, and a server that
	// resends the entity from byte zero after ignoring our
	// Range request replays the same compressed prefix we already fed the
	// decompressor, so skipping that prefix again lets the same decoder
	// instance continue exactly where it left off.
	raw := decoder.NewSkipReader(resp.Body, bytesToSkip)
	if hstat.Restval > 0 && hstat.Decoder != nil {
		hstat.Decoder.Resume(raw)
	} else {
		// A decoder left over from an attempt that made no progress is
		// of no use at offset zero; release it before building afresh.
		hstat.dropDecoder()
		st, err := decoder.New(tokens, raw)
		if err != nil {
			return 0, &BadResponse{URL: currentURL, Message: err.Error()}
		}
		hstat.Decoder = st
	}

	// Step 14: materialize part file. A restart from byte zero (step 8)
	// reuses the same part file across attempts, so it must be truncated
	// back to empty first — otherwise the fresh body would be appended
	// after whatever a prior, now-discarded attempt had already written.
	f, err := hstat.ensurePartFile()
	if err != nil {
		return 0, fmt.Errorf("retrieval: create part file: %w", err)
	}
	if hstat.Restval == 0 {
		if err := f.Truncate(0); err != nil {
			return 0, fmt.Errorf("retrieval: truncate part file: %w", err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("retrieval: seek part file: %w", err)
		}
		hstat.BytesWritten = 0
	}

	// Step 15: stream loop.
	hstat.BytesRead = hstat.Restval
	size := resp.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)
	for {
		n, rerr := hstat.Decoder.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				logWriteError(logger, currentURL, hstat)
				return 0, fmt.Errorf("retrieval: write part file: %w", werr)
			}
			hstat.BytesWritten += int64(n)
		}
		hstat.BytesRead = hstat.Restval + raw.Consumed()

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			logReadError(logger, currentURL, hstat)
			return 0, fmt.Errorf("retrieval: read response body: %w", rerr)
		}
	}

	// Step 16: clean finish.
	hstat.dropDecoder()
	return retrFinished, nil
}

// logReadError logs a socket-read failure. bytes_read is a wire-byte
// count, the same unit Contlen is expressed in, so the "of N" suffix is
// meaningful regardless of content-encoding.
func logReadError(logger *retrlog.Logger, url string, hstat *HttpStat) {
	if hstat.Contlen != nil {
		logger.Warn(url, "read error", "byte", hstat.BytesRead, "of", *hstat.Contlen)
	} else {
		logger.Warn(url, "read error", "byte", hstat.BytesRead)
	}
}

// logWriteError logs a local disk-write failure. bytes_written counts
// decoded bytes, only comparable to Contlen (a wire-byte count) when the
// body is identity-encoded.
func logWriteError(logger *retrlog.Logger, url string, hstat *HttpStat) {
	if hstat.Contlen != nil && hstat.EncIsIdentity {
		logger.Warn(url, "write error", "byte", hstat.BytesWritten, "of", *hstat.Contlen)
	} else {
		logger.Warn(url, "write error", "byte", hstat.BytesWritten)
	}
}

func isMultipartByteranges(contentType string) bool {
	head, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(head), "multipart/byteranges")
}

func methodAllowsBody(resp *transport.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	return true
}

