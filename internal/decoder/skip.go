package decoder

import (
	"io"
	"sync/atomic"
)

// SkipReader discards the first N bytes of an underlying reader, then
// passes the rest through unmodified. The response processor wraps the
// raw (pre-decompression) response body in a SkipReader when a server
// ignores a Range request and resends the entity from the start: the
// skip applies to the wire bytes handed to the decompressor, not to its
// decoded output, so a long-lived decompressor sees exactly the
// compressed suffix it has not yet consumed.
type SkipReader struct {
	r    io.Reader
	skip int64

	// consumed is read by the retrieval goroutine while the decode
	// goroutine advances it.
	consumed atomic.Int64
}

// NewSkipReader wraps r, discarding the first skip bytes it would
// otherwise emit.
func NewSkipReader(r io.Reader, skip int64) *SkipReader {
	return &SkipReader{r: r, skip: skip}
}

// Consumed returns the cumulative count of bytes this SkipReader has
// delivered to callers so far, not counting the discarded prefix. Safe
// to call concurrently with Read.
func (s *SkipReader) Consumed() int64 {
	return s.consumed.Load()
}

func (s *SkipReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n == 0 {
		return n, err
	}

	if s.skip >= int64(n) {
		s.skip -= int64(n)
		// Signal "nothing produced this call" without losing err.
		return 0, err
	}

	if s.skip > 0 {
		copy(p, p[s.skip:n])
		n -= int(s.skip)
		s.skip = 0
	}

	s.consumed.Add(int64(n))
	return n, err
}
