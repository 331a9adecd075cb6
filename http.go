package wsrelay

import (
	"bytes"
	"strconv"
)

const (
	crlf          = "\r\n"
	colonAndSpace = ": "

	textErrorContent = "Content-Type: text/plain; charset=utf-8\r\nX-Content-Type-Options: nosniff\r\n"
	textUpgrade      = "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n"
	textBadRequest   = "HTTP/1.1 400 Bad Request\r\n" + textErrorContent
)

const (
	headerHost      = "Host"
	headerSecAccept = "Sec-WebSocket-Accept"

	// headerSecKeyCanonical is Sec-WebSocket-Key as returned by
	// httphead.CanonicalizeHeaderKey.
	headerSecKeyCanonical = "Sec-Websocket-Key"
)

var methodGet = []byte("GET")

// httpWriteUpgrade appends successful upgrade response to buf.
func httpWriteUpgrade(buf *bytes.Buffer, key []byte) {
	buf.WriteString(textUpgrade)
	httpWriteHeaderKey(buf, headerSecAccept)
	var b [acceptSize]byte
	putAcceptKey(b[:], key)
	buf.Write(b[:])
	buf.WriteString(crlf)
	buf.WriteString(crlf)
}

// httpWriteResponseError appends 400 response with err description to buf.
func httpWriteResponseError(buf *bytes.Buffer, err error) {
	body := err.Error()
	buf.WriteString(textBadRequest)
	httpWriteHeaderKey(buf, "Content-Length")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString(crlf)
	buf.WriteString(crlf)
	buf.WriteString(body)
}

func httpWriteHeaderKey(buf *bytes.Buffer, key string) {
	buf.WriteString(key)
	buf.WriteString(colonAndSpace)
}

// httpNextLine returns the first line of p without its '\n' or "\r\n" ending
// and the rest of p after it. If p has no '\n' the whole p is the line.
func httpNextLine(p []byte) (line, rest []byte) {
	i := bytes.IndexByte(p, '\n')
	if i == -1 {
		return p, nil
	}
	line, rest = p[:i], p[i+1:]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, rest
}
