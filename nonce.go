package wsrelay

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"hash"
	"sync"
)

// acceptGUID is appended to the client key before hashing.
// See https://tools.ietf.org/html/rfc6455#section-1.3
var acceptGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// acceptSize is base64.StdEncoding.EncodedLen(sha1.Size).
const acceptSize = 28

var sha1Pool = sync.Pool{
	New: func() any { return sha1.New() },
}

// AcceptKey returns the Sec-WebSocket-Accept value for given
// Sec-WebSocket-Key value. Leading and trailing whitespace of the key is
// ignored; its case is preserved.
func AcceptKey(key []byte) string {
	var dst [acceptSize]byte
	putAcceptKey(dst[:], key)
	return string(dst[:])
}

// putAcceptKey writes accept value for key into dst, which must be at least
// acceptSize bytes long.
func putAcceptKey(dst, key []byte) {
	h := sha1Pool.Get().(hash.Hash)
	defer func() {
		h.Reset()
		sha1Pool.Put(h)
	}()

	h.Write(bytes.TrimSpace(key))
	h.Write(acceptGUID)

	var sum [sha1.Size]byte
	base64.StdEncoding.Encode(dst, h.Sum(sum[:0]))
}
