package decoder

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// SupportedEncodings lists the content-codings this package's Stream can
// decode, in the order advertised in the Accept-Encoding request header.
// "identity" is always included.
var SupportedEncodings = []string{"identity", "gzip", "deflate", "br", "zstd"}

// AcceptEncodingHeader joins SupportedEncodings into an Accept-Encoding
// header value.
func AcceptEncodingHeader() string {
	return strings.Join(SupportedEncodings, ", ")
}

// NormalizeTokens splits a Content-Encoding header value into its
// trimmed, non-empty tokens. Tokens that are not well-formed HTTP tokens
// per RFC 7230 are kept verbatim (a server sending garbage here should
// still trip the encoding-continuity check rather than silently vanish).
// A nil/empty header yields a nil slice.
func NormalizeTokens(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// IsIdentity reports whether tokens represents an absent or all-identity
// encoding list.
func IsIdentity(tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, t := range tokens {
		if !strings.EqualFold(t, "identity") {
			return false
		}
	}
	return true
}

// SameTokens reports whether a and b list the same codings in the same
// order — used for the encoding-continuity check across attempts.
func SameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// validHeaderToken reports whether s is a syntactically valid HTTP
// token, used by New to report an unrecognized coding name as malformed
// or as unsupported; either way the coding is rejected.
func validHeaderToken(s string) bool {
	return httpguts.ValidHeaderFieldName(s)
}
