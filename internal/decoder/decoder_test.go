package decoder

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// failingReader converts its source's EOF into err, imitating a
// connection that drops mid-body.
type failingReader struct {
	r   io.Reader
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		err = f.err
	}
	return n, err
}

// drainAttempt reads s until the current attempt's source is exhausted,
// returning the decoded bytes and the boundary error.
func drainAttempt(t *testing.T, s *Stream) ([]byte, error) {
	t.Helper()
	var decoded []byte
	buf := make([]byte, 64)
	for {
		n, err := s.Read(buf)
		decoded = append(decoded, buf[:n]...)
		if err != nil {
			return decoded, err
		}
	}
}

func TestStreamIdentityPassthrough(t *testing.T) {
	s, err := New(nil, bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamGzipResume(t *testing.T) {
	full := []byte("abcdefghij")
	gz := gzipBytes(t, full)

	// First attempt only delivers half the compressed bytes.
	cut := len(gz) / 2
	s, err := New([]string{"gzip"}, bytes.NewReader(gz[:cut]))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	decoded, rerr := drainAttempt(t, s)
	if rerr != io.EOF {
		t.Fatalf("attempt boundary error = %v, want io.EOF", rerr)
	}

	// Resume with the remainder of the compressed stream — the same
	// decompressor keeps going from where it left off.
	s.Resume(bytes.NewReader(gz[cut:]))
	rest, err := io.ReadAll(s)
	if err != nil {
		t.Fatal(err)
	}
	decoded = append(decoded, rest...)

	if string(decoded) != string(full) {
		t.Fatalf("got %q, want %q", decoded, full)
	}
}

func TestStreamGzipResumeAfterReadError(t *testing.T) {
	full := []byte("the quick brown fox jumps over the lazy dog")
	gz := gzipBytes(t, full)
	cut := len(gz) / 2

	// The first attempt's body fails with a mid-stream transport error,
	// the way a dropped connection surfaces through net/http. The error
	// must reach the caller without poisoning the decompressor.
	s, err := New([]string{"gzip"}, &failingReader{r: bytes.NewReader(gz[:cut]), err: io.ErrUnexpectedEOF})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	decoded, rerr := drainAttempt(t, s)
	if rerr != io.ErrUnexpectedEOF {
		t.Fatalf("attempt boundary error = %v, want %v", rerr, io.ErrUnexpectedEOF)
	}

	s.Resume(bytes.NewReader(gz[cut:]))
	rest, err := io.ReadAll(s)
	if err != nil {
		t.Fatal(err)
	}
	decoded = append(decoded, rest...)

	if string(decoded) != string(full) {
		t.Fatalf("got %q, want %q", decoded, full)
	}
}

func TestStreamMatches(t *testing.T) {
	s, err := New([]string{"gzip"}, bytes.NewReader(gzipBytes(t, []byte("x"))))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.Matches([]string{"gzip"}) {
		t.Fatal("expected match")
	}
	if s.Matches([]string{"br"}) {
		t.Fatal("expected mismatch")
	}
}

func TestSkipReader(t *testing.T) {
	sr := NewSkipReader(bytes.NewReader([]byte("0123456789")), 3)
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "3456789" {
		t.Fatalf("got %q", got)
	}
}

func TestSkipReaderAcrossMultipleReads(t *testing.T) {
	sr := NewSkipReader(bytes.NewReader([]byte("ab")), 3)
	buf := make([]byte, 2)
	n, err := sr.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("expected fully skipped read, got n=%d err=%v", n, err)
	}
	if n, err := sr.Read(buf); n != 0 || err != io.EOF {
		t.Fatalf("expected exhausted source, got n=%d err=%v", n, err)
	}
	if sr.Consumed() != 0 {
		t.Fatalf("Consumed() = %d, want 0", sr.Consumed())
	}
}

func TestSkipReaderConsumedExcludesSkippedPrefix(t *testing.T) {
	sr := NewSkipReader(bytes.NewReader([]byte("0123456789")), 3)
	if _, err := io.ReadAll(sr); err != nil {
		t.Fatal(err)
	}
	if sr.Consumed() != 7 {
		t.Fatalf("Consumed() = %d, want 7", sr.Consumed())
	}
}
