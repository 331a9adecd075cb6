package wsrelay

import (
	"encoding/binary"
	"io"
)

// MaxHeaderSize is the longest possible frame header in bytes.
const MaxHeaderSize = 14

const (
	bit0 = 0x80
	bit5 = 0x04
	bit6 = 0x02
	bit7 = 0x01

	len7  = int64(125)
	len16 = int64(^(uint16(0)))
	len64 = int64(^(uint64(0)) >> 1)
)

// HeaderSize returns number of bytes that are needed to encode given header.
// It returns -1 if header is malformed.
func HeaderSize(h Header) (n int) {
	switch {
	case h.Length < 0:
		return -1
	case h.Length <= len7:
		n = 2
	case h.Length <= len16:
		n = 4
	default:
		n = 10
	}
	if h.Masked {
		n += 4
	}
	return n
}

// PutHeader encodes h into the beginning of p and returns the number of
// written bytes. The length is always encoded with minimal number of bytes.
//
// It panics if p is shorter than HeaderSize(h).
func PutHeader(p []byte, h Header) int {
	n := HeaderSize(h)
	_ = p[n-1]

	p[0] = 0
	if h.Fin {
		p[0] |= bit0
	}
	p[0] |= (h.Rsv & 0x7) << 4
	p[0] |= byte(h.OpCode) & 0x0f

	i := 2
	switch {
	case h.Length <= len7:
		p[1] = byte(h.Length)
	case h.Length <= len16:
		p[1] = 126
		binary.BigEndian.PutUint16(p[i:], uint16(h.Length))
		i += 2
	default:
		p[1] = 127
		binary.BigEndian.PutUint64(p[i:], uint64(h.Length))
		i += 8
	}

	if h.Masked {
		p[1] |= bit0
		copy(p[i:], h.Mask[:])
		i += 4
	}

	return i
}

// WriteHeader writes header binary representation into w.
func WriteHeader(w io.Writer, h Header) error {
	if h.Length < 0 {
		return ErrHeaderLengthMSB
	}
	var bts [MaxHeaderSize]byte
	n := PutHeader(bts[:], h)
	_, err := w.Write(bts[:n])
	return err
}

// WriteFrame writes frame binary representation into w.
func WriteFrame(w io.Writer, f Frame) error {
	err := WriteHeader(w, f.Header)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Payload)
	return err
}

// EncodeFrame returns byte representation of given frame. The payload is
// written as is, that is, it must be already masked if the header says so.
func EncodeFrame(f Frame) []byte {
	f.Header.Length = int64(len(f.Payload))
	n := HeaderSize(f.Header)
	bts := make([]byte, n+len(f.Payload))
	PutHeader(bts, f.Header)
	copy(bts[n:], f.Payload)
	return bts
}

// Encode returns final unmasked frame of kind op carrying payload, as sent
// from server to client.
func Encode(payload []byte, op OpCode) []byte {
	return EncodeFrame(NewFrame(op, true, payload))
}

// MustCompileFrame is like EncodeFrame but panics if the header is malformed.
// It is useful to precompile static frames which are often used.
func MustCompileFrame(f Frame) []byte {
	if HeaderSize(f.Header) < 0 {
		panic("malformed frame header")
	}
	return EncodeFrame(f)
}

// Compiled control frames for common use cases.
var (
	CompiledPong  = MustCompileFrame(NewPongFrame(nil))
	CompiledClose = MustCompileFrame(NewCloseFrame(nil))

	CompiledCloseGoingAway = MustCompileFrame(NewCloseFrame(
		NewCloseFrameBody(StatusGoingAway, ""),
	))
	CompiledCloseMessageTooBig = MustCompileFrame(NewCloseFrame(
		NewCloseFrameBody(StatusMessageTooBig, ""),
	))
)
