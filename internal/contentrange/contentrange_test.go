package contentrange

import "testing"

func TestParseValid(t *testing.T) {
	cases := []struct {
		header string
		want   Range
	}{
		{"bytes 0-4/5", Range{0, 4, 5}},
		{"bytes 5-9/10", Range{5, 9, 10}},
		{"bytes 0-0/*", Range{0, 0, -1}},
		{"bytes: 0-4/5", Range{0, 4, 5}},
		{"0-4/5", Range{0, 4, 5}},
	}
	for _, c := range cases {
		got, ok := Parse(c.header)
		if !ok {
			t.Fatalf("Parse(%q): expected ok, got not-ok", c.header)
		}
		if got != c.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", c.header, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"bytes */5",
		"bytes 5-4/10",  // last < first
		"bytes 0-4/4",   // len <= last
		"bytes 0-4/3",   // len <= last
		"bytes x-y/z",
		"bytes 0-",
		"bytes 0-4",
	}
	for _, h := range cases {
		if _, ok := Parse(h); ok {
			t.Fatalf("Parse(%q): expected not-ok", h)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	r, ok := Parse("bytes 5-9/10")
	if !ok {
		t.Fatal("expected ok")
	}
	if r.First != 5 || r.Last != 9 || r.Length != 10 {
		t.Fatalf("got %+v", r)
	}
}
