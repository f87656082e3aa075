package retrieval

import (
	"fmt"
	"net/http"
)

// BadProtocol is raised when the requested URL uses a scheme other than
// http/https. Fatal, never retried.
type BadProtocol struct {
	URL    string
	Scheme string
}

func (e *BadProtocol) Error() string {
	return fmt.Sprintf("bad protocol %q for %s: only http/https are supported", e.Scheme, e.URL)
}

// UnreachableHost is raised when an authority has been condemned, either
// just now (connect failure, Cloudflare origin error) or by a previous
// retrieval in this process.
type UnreachableHost struct {
	URL       string
	Authority string
	Err       error
}

func (e *UnreachableHost) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unreachable host for %s (authority %s is condemned)", e.URL, e.Authority)
	}
	return fmt.Sprintf("unreachable host for %s (authority %s): %v", e.URL, e.Authority, e.Err)
}

func (e *UnreachableHost) Unwrap() error { return e.Err }

// BadResponse is raised on a protocol violation the server committed,
// such as sending a multipart body to a single-range request.
type BadResponse struct {
	URL     string
	Message string
}

func (e *BadResponse) Error() string {
	return fmt.Sprintf("bad response from %s: %s", e.URL, e.Message)
}

// WrongCode is a BadResponse raised for an unexpected HTTP status.
// Headers is omitted (nil) when StatusCode is 403 or 404, matching the
// original implementation's reluctance to log headers for those two.
type WrongCode struct {
	BadResponse
	StatusCode int
	Reason     string
	Headers    http.Header
}

func newWrongCode(url string, statusCode int, reason string, headers http.Header) *WrongCode {
	if statusCode == http.StatusForbidden || statusCode == http.StatusNotFound {
		headers = nil
	}
	return &WrongCode{
		BadResponse: BadResponse{URL: url, Message: fmt.Sprintf("server returned %d %s", statusCode, reason)},
		StatusCode:  statusCode,
		Reason:      reason,
		Headers:     headers,
	}
}

func (e *WrongCode) Error() string { return e.BadResponse.Error() }

// RangeError is a BadResponse raised when the server's Content-Range
// does not line up with what was requested. Fatal, never retried.
type RangeError struct {
	BadResponse
	Qualifier string
}

func newRangeError(url, qualifier string) *RangeError {
	return &RangeError{
		BadResponse: BadResponse{URL: url, Message: fmt.Sprintf("invalid Content-Range (%s)", qualifier)},
		Qualifier:   qualifier,
	}
}

func (e *RangeError) Error() string { return e.BadResponse.Error() }

// MaxRetry is raised once the retry budget is exhausted.
type MaxRetry struct {
	URL string
	Err error
}

func (e *MaxRetry) Error() string {
	return fmt.Sprintf("giving up on %s: %v", e.URL, e.Err)
}

func (e *MaxRetry) Unwrap() error { return e.Err }
