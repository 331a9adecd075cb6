package wsrelay

import (
	"bytes"

	"github.com/gobwas/httphead"
)

// HeaderEnd is the sequence that terminates HTTP request headers.
var HeaderEnd = []byte("\r\n\r\n")

// Request contains handshake request fields that are relevant for the
// upgrade.
type Request struct {
	Method []byte
	URI    []byte
	Host   []byte
	Key    []byte

	Major, Minor int
}

// Recognize reports whether p begins with an HTTP request line of GET method.
// The method is matched case-insensitively.
func Recognize(p []byte) bool {
	n := len(methodGet)
	if len(p) < n+1 {
		return false
	}
	return bytes.EqualFold(p[:n], methodGet) && p[n] == ' '
}

// ParseRequest parses handshake request text made of request line and
// header lines. Parsing stops at the first blank line.
//
// Returned slices are subslices of request. Header keys of request are
// canonicalized in place.
func ParseRequest(request []byte) (req Request, err error) {
	line, rest := httpNextLine(request)

	rl, ok := httphead.ParseRequestLine(line)
	if !ok {
		return req, ErrMalformedHttpRequest
	}
	req.Method = rl.Method
	req.URI = rl.URI
	req.Major = rl.Version.Major
	req.Minor = rl.Version.Minor

	// See https://tools.ietf.org/html/rfc6455#section-4.1
	// The method of the request MUST be GET, and the HTTP version MUST be at least 1.1.
	if !bytes.EqualFold(req.Method, methodGet) {
		return req, ErrBadHttpRequestMethod
	}
	if req.Major < 1 || (req.Major == 1 && req.Minor < 1) {
		return req, ErrBadHttpRequestProto
	}

	for len(rest) > 0 {
		line, rest = httpNextLine(rest)
		// Blank line, no more lines to read.
		if len(line) == 0 {
			break
		}
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			return req, ErrMalformedHttpRequest
		}
		httphead.CanonicalizeHeaderKey(k)
		switch string(k) {
		case headerSecKeyCanonical:
			req.Key = v
		case headerHost:
			req.Host = v
		}
	}
	if len(req.Key) == 0 {
		return req, ErrMissingHandshakeKey
	}

	return req, nil
}

// Negotiate parses handshake request text and returns the upgrade response
// that must be sent back to the client.
func Negotiate(request []byte) ([]byte, error) {
	req, err := ParseRequest(request)
	if err != nil {
		return nil, err
	}
	return UpgradeResponse(req.Key), nil
}

// UpgradeResponse returns "101 Switching Protocols" response for given
// Sec-WebSocket-Key value.
func UpgradeResponse(key []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(textUpgrade) + len(headerSecAccept) + acceptSize + 8)
	httpWriteUpgrade(&buf, key)
	return buf.Bytes()
}

// RejectResponse returns "400 Bad Request" response describing err.
func RejectResponse(err error) []byte {
	var buf bytes.Buffer
	httpWriteResponseError(&buf, err)
	return buf.Bytes()
}
