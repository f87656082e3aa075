// Package decoder implements a resumable streaming content-encoding
// decompressor. Stock decompressors latch the first error their source
// hands them, so a retrieval that reconnects mid-entity must never let
// the old connection's failure reach the decompressor itself: here the
// decompressor reads through a feed that withholds each attempt's
// terminal error — parking it for the consumer and blocking until the
// next attempt's body is swapped in — so its internal window survives
// the reconnect instead of being rebuilt from scratch.
package decoder

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decodeBufSize bounds one decompressor read on the decode goroutine.
const decodeBufSize = 32 << 10

// result carries one decompressor read to the consumer side: decoded
// bytes, or the decompressor's terminal error (io.EOF on a clean end
// of entity).
type result struct {
	data []byte
	err  error
}

// Stream is the resumable decoder attached to one retrieval across the
// lifetime of its attempts. It is built once, the first time a response
// body needs decoding, and is reused on every subsequent attempt as
// long as the Content-Encoding tokens stay consistent (see Matches). A
// nil *Stream means no decoder state is held.
//
// Identity bodies are read directly. For real codings the decompressor
// runs on its own goroutine, reading wire bytes from a rawFeed: when an
// attempt's body ends, the decompressor blocks inside the feed instead
// of observing the error, the error is parked and returned from Read,
// and Resume hands the feed the next attempt's body so decompression
// continues exactly where it stopped.
type Stream struct {
	tokens []string

	// identity path; no goroutine involved.
	plain bool
	cur   io.Reader

	feed    chan io.Reader
	results chan result
	parked  chan error
	quit    chan struct{}
	done    chan struct{}

	pending []byte   // undelivered tail of the last decoded chunk
	stash   []result // results received while Resume was swapping sources
	err     error    // terminal decompressor error, latched
}

// New builds a Stream for the given normalized Content-Encoding tokens,
// reading from first. Only single-coding bodies are supported beyond
// identity; none of gzip/deflate/br/zstd compose in this
// implementation.
func New(tokens []string, first io.Reader) (*Stream, error) {
	coding := codingOf(tokens)
	if coding != "identity" && !supported(coding) {
		if !validHeaderToken(coding) {
			return nil, fmt.Errorf("decoder: malformed content-coding %q", coding)
		}
		return nil, fmt.Errorf("decoder: unsupported content-coding %q", coding)
	}

	if coding == "identity" {
		return &Stream{tokens: tokens, plain: true, cur: first}, nil
	}

	s := &Stream{
		tokens:  tokens,
		feed:    make(chan io.Reader),
		results: make(chan result),
		parked:  make(chan error),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.decode(coding, &rawFeed{cur: first, feed: s.feed, parked: s.parked, quit: s.quit})
	return s, nil
}

func supported(coding string) bool {
	switch coding {
	case "gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

// codingOf returns the single meaningful coding name out of tokens,
// treating any number of leading/trailing "identity" tokens as no-ops.
func codingOf(tokens []string) string {
	for _, t := range tokens {
		if t != "identity" {
			return t
		}
	}
	return "identity"
}

// decode runs the decompressor, delivering each decoded chunk and
// finally its terminal error. Constructing the decompressor happens
// here rather than in New because gzip/zstd read their headers eagerly,
// and a header split across attempts must be able to block for the next
// body like any other read.
func (s *Stream) decode(coding string, src *rawFeed) {
	defer close(s.done)

	var dec io.Reader
	switch coding {
	case "gzip":
		gz, err := gzip.NewReader(src)
		if err != nil {
			s.deliver(result{err: err})
			return
		}
		// One entity is one member; without this, reaching the trailer
		// would trigger a speculative read for a following member.
		gz.Multistream(false)
		dec = gz
	case "deflate":
		dec = flate.NewReader(src)
	case "br":
		dec = brotli.NewReader(src)
	case "zstd":
		// Concurrency 1 keeps every source read on this goroutine.
		zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			s.deliver(result{err: err})
			return
		}
		defer zr.Close()
		dec = zr
	}

	buf := make([]byte, decodeBufSize)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			if !s.deliver(result{data: out}) {
				return
			}
		}
		if err != nil {
			s.deliver(result{err: err})
			return
		}
	}
}

// deliver hands res to the consumer side, aborting if the Stream was
// closed underneath it.
func (s *Stream) deliver(res result) bool {
	select {
	case s.results <- res:
		return true
	case <-s.quit:
		return false
	}
}

// rawFeed is the source the decompressor reads. It never returns an
// attempt's failure upward: the error is parked for the consumer and
// the read blocks until the next attempt's body arrives. Closing the
// Stream surfaces as a plain EOF so the decompressor can unwind.
type rawFeed struct {
	cur        io.Reader
	pendingErr error
	feed       <-chan io.Reader
	parked     chan<- error
	quit       <-chan struct{}
}

func (f *rawFeed) Read(p []byte) (int, error) {
	for {
		if f.pendingErr != nil {
			err := f.pendingErr
			f.pendingErr = nil
			f.cur = nil
			select {
			case f.parked <- err:
			case <-f.quit:
				return 0, io.EOF
			}
			continue
		}
		if f.cur == nil {
			select {
			case src := <-f.feed:
				f.cur = src
			case <-f.quit:
				return 0, io.EOF
			}
			continue
		}
		n, err := f.cur.Read(p)
		if err != nil {
			f.pendingErr = err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Matches reports whether tokens is the same encoding list this Stream
// was built for — used by the response processor's continuity check.
// A mismatch means the decoder state is invalid and the attempt must
// restart from offset 0.
func (s *Stream) Matches(tokens []string) bool {
	return SameTokens(s.tokens, tokens)
}

// Resume points the Stream at a new attempt's response body without
// disturbing the decompressor's internal state. Decoded output the
// previous attempt produced but the caller has not read yet is stashed
// and served by the following Reads; a parked boundary error from the
// old source is superseded by the new source and dropped.
func (s *Stream) Resume(next io.Reader) {
	if s.plain {
		s.cur = next
		return
	}
	for {
		select {
		case s.feed <- next:
			return
		case res := <-s.results:
			s.stash = append(s.stash, res)
		case <-s.parked:
		case <-s.done:
			return
		}
	}
}

// Read implements io.Reader over the decoded entity. When the current
// attempt's body is exhausted, Read returns that body's error (io.EOF
// included) while the decompressor stays blocked, ready for Resume; a
// terminal decompressor error is latched and returned from then on.
func (s *Stream) Read(p []byte) (int, error) {
	if s.plain {
		if s.cur == nil {
			return 0, io.EOF
		}
		return s.cur.Read(p)
	}

	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if len(s.stash) > 0 {
		res := s.stash[0]
		s.stash = s.stash[1:]
		if res.err != nil {
			s.err = res.err
			return 0, res.err
		}
		n := copy(p, res.data)
		s.pending = res.data[n:]
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}

	select {
	case res := <-s.results:
		if res.err != nil {
			s.err = res.err
			return 0, res.err
		}
		n := copy(p, res.data)
		s.pending = res.data[n:]
		return n, nil
	case err := <-s.parked:
		return 0, err
	case <-s.done:
		return 0, io.EOF
	}
}

// Close releases the decode goroutine: the feed surfaces a plain EOF,
// the decompressor unwinds, and zstd's worker state is released by its
// own deferred Close. Reading or resuming after Close is a no-op.
func (s *Stream) Close() error {
	if s.plain {
		return nil
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	return nil
}
