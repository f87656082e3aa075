// Package contentrange implements a tolerant parser for the HTTP
// Content-Range response header, following the same forgiving grammar
// real-world servers have historically required clients to accept.
package contentrange

import "strings"

// Range is the parsed triple (first_byte_pos, last_byte_pos,
// entity_length). Length is -1 when the server sent "*" for an unknown
// total entity length.
type Range struct {
	First, Last int64
	Length      int64 // -1 if unknown
}

// Parse parses a Content-Range header value of the form
// "bytes FIRST-LAST/LEN", tolerating an optional "bytes" token, an
// optional ":" after it, and whitespace after those. LEN may be "*".
// It returns ok=false for a malformed FIRST-LAST/LEN, for LAST < FIRST,
// or for a known LEN that is <= LAST. Leading whitespace is rejected;
// anything after LEN (or after "*") is not examined.
func Parse(header string) (r Range, ok bool) {
	h := header
	if strings.HasPrefix(h, "bytes") {
		h = h[len("bytes"):]
		if strings.HasPrefix(h, ":") {
			h = h[1:]
		}
		h = strings.TrimLeft(h, " \t")
		if h == "" {
			return Range{}, false
		}
	}

	pos := 0
	first, n, good := scanNum(h, pos)
	if !good || n >= len(h) || h[n] != '-' {
		return Range{}, false
	}
	pos = n + 1

	last, n, good := scanNum(h, pos)
	if !good || n >= len(h) || h[n] != '/' {
		return Range{}, false
	}
	pos = n + 1

	if pos < len(h) && h[pos] == '*' {
		r = Range{First: first, Last: last, Length: -1}
	} else {
		length, n, good := scanNum(h, pos)
		if !good {
			return Range{}, false
		}
		_ = n
		r = Range{First: first, Last: last, Length: length}
	}

	if r.Last < r.First {
		return Range{}, false
	}
	if r.Length != -1 && r.Length <= r.Last {
		return Range{}, false
	}
	return r, true
}

// scanNum reads a run of ASCII digits starting at pos, returning the
// parsed base-10 value, the index just past the digits, and whether at
// least one digit was consumed.
func scanNum(s string, pos int) (val int64, next int, ok bool) {
	start := pos
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		val = val*10 + int64(s[pos]-'0')
		pos++
	}
	return val, pos, pos > start
}
