package wsrelay

import (
	"encoding/binary"
	"io"
)

const (
	PlatformSizeLimit = int64(^(uint(0)) >> 1) // Max int value for current platform.
)

// ParseHeader parses a frame header placed at the beginning of p. It returns
// parsed header and the number of bytes it occupies.
//
// It returns ErrTruncatedFrame if p does not contain the whole header yet.
func ParseHeader(p []byte) (h Header, n int, err error) {
	if len(p) < 2 {
		return h, 0, ErrTruncatedFrame
	}

	h.Fin = p[0]&bit0 != 0
	h.Rsv = (p[0] & 0x70) >> 4
	h.OpCode = OpCode(p[0] & 0x0f)
	h.Masked = p[1]&bit0 != 0

	n = 2
	length := p[1] & 0x7f
	switch {
	case length < 126:
		h.Length = int64(length)

	case length == 126:
		if len(p) < n+2 {
			return h, 0, ErrTruncatedFrame
		}
		h.Length = int64(binary.BigEndian.Uint16(p[n:]))
		n += 2

	case length == 127:
		if len(p) < n+8 {
			return h, 0, ErrTruncatedFrame
		}
		if p[n]&bit0 != 0 {
			return h, 0, ErrHeaderLengthMSB
		}
		h.Length = int64(binary.BigEndian.Uint64(p[n:]))
		n += 8
	}

	if h.Masked {
		if len(p) < n+4 {
			return h, 0, ErrTruncatedFrame
		}
		copy(h.Mask[:], p[n:n+4])
		n += 4
	}

	return h, n, nil
}

// DecodeFrame decodes a single frame from the beginning of p. The header is
// checked against given state s and the payload is copied and unmasked. It
// returns the frame and the number of bytes of p it occupies.
//
// If p holds fewer bytes than the frame declares, ErrTruncatedFrame is
// returned and nothing is decoded.
func DecodeFrame(p []byte, s State) (f Frame, n int, err error) {
	h, hn, err := ParseHeader(p)
	if err != nil {
		return f, 0, err
	}
	if err = CheckHeader(h, s); err != nil {
		return f, 0, err
	}
	if s.Is(StateStrictLength) {
		if err = checkLengthEncoding(p[1]&0x7f, h.Length); err != nil {
			return f, 0, err
		}
	}
	if h.Length > int64(len(p)-hn) {
		return f, 0, ErrTruncatedFrame
	}

	n = hn + int(h.Length)
	payload := make([]byte, int(h.Length))
	copy(payload, p[hn:n])
	if h.Masked {
		Cipher(payload, h.Mask, 0)
	}

	return Frame{Header: h, Payload: payload}, n, nil
}

// Decode decodes frame sent by a client from raw bytes and returns its
// unmasked payload and operation code.
//
// It is a shortcut for DecodeFrame(raw, StateServerSide).
func Decode(raw []byte) ([]byte, OpCode, error) {
	f, _, err := DecodeFrame(raw, StateServerSide)
	if err != nil {
		return nil, 0, err
	}
	return f.Payload, f.Header.OpCode, nil
}

// ReadHeader reads a frame header from r.
func ReadHeader(r io.Reader) (h Header, err error) {
	// Make slice with 2 bytes len for header, but with 14 byte capacity to
	// hold the longest possible header without extra allocation.
	bts := make([]byte, 2, MaxHeaderSize)

	// Prepare to hold first 2 bytes to choose size of next read.
	if _, err = io.ReadFull(r, bts); err != nil {
		return
	}

	var extra int
	if bts[1]&bit0 != 0 {
		extra += 4
	}
	switch bts[1] & 0x7f {
	case 126:
		extra += 2
	case 127:
		extra += 8
	}
	if extra > 0 {
		bts = bts[:2+extra]
		if _, err = io.ReadFull(r, bts[2:]); err != nil {
			return
		}
	}

	h, _, err = ParseHeader(bts)
	return
}

// ReadFrame reads a frame from r.
// It is not designed for high optimized use case cause it makes allocation
// for frame.Header.Length size inside to read frame payload into.
//
// Note that ReadFrame does not unmask payload.
func ReadFrame(r io.Reader) (f Frame, err error) {
	f.Header, err = ReadHeader(r)
	if err != nil {
		return
	}

	if f.Header.Length > 0 {
		if f.Header.Length > PlatformSizeLimit {
			err = ErrHeaderLengthMSB
			return
		}
		f.Payload = make([]byte, int(f.Header.Length))
		_, err = io.ReadFull(r, f.Payload)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}

	return
}

// ParseCloseFrameData parses close frame status code and closure reason if any provided.
// If there is no status code in the payload
// zero status code is returned with empty string as a reason.
func ParseCloseFrameData(payload []byte) (code StatusCode, reason string) {
	if len(payload) < 2 {
		// We returning empty StatusCode here, preventing the situation
		// when endpoint really sent code 1005 and we should return ProtocolError on that.
		//
		// In other words, we ignoring this rule [RFC6455:7.1.5]:
		//   If this Close control frame contains no status code, _The WebSocket
		//   Connection Close Code_ is considered to be 1005.
		return
	}
	code = StatusCode(binary.BigEndian.Uint16(payload))
	reason = string(payload[2:])
	return
}
