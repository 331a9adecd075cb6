package wsrelay

import (
	"fmt"
	"strings"
)

// headerCases are headers paired with their wire encoding. Most of them are
// taken from the examples of RFC6455 section 5.7.
var headerCases = []struct {
	name   string
	data   []byte
	header Header
}{
	{
		name: "unmasked text",
		data: bits("1 000 0001 0 0000101"),
		header: Header{
			Fin:    true,
			OpCode: OpText,
			Length: 5,
		},
	},
	{
		name: "masked ping",
		data: bits("1 000 1001 1 0000101 00110111 11111010 00100001 00111101"),
		header: Header{
			Fin:    true,
			OpCode: OpPing,
			Length: 5,
			Masked: true,
			Mask:   [4]byte{0x37, 0xfa, 0x21, 0x3d},
		},
	},
	{
		name: "16-bit length",
		data: bits("1 000 0010 0 1111110 00000001 00000000"),
		header: Header{
			Fin:    true,
			OpCode: OpBinary,
			Length: 256,
		},
	},
	{
		name: "64-bit length",
		data: bits("1 000 0010 0 1111111 00000000 00000000 00000000 00000000 00000000 00000001 00000000 00000000"),
		header: Header{
			Fin:    true,
			OpCode: OpBinary,
			Length: 65536,
		},
	},
	{
		name: "continuation with rsv",
		data: bits("0 010 0000 1 0000000 00000001 00000010 00000011 00000100"),
		header: Header{
			Rsv:    Rsv(false, true, false),
			OpCode: OpContinuation,
			Masked: true,
			Mask:   [4]byte{1, 2, 3, 4},
		},
	},
}

// bits converts string of zeros and ones into bytes. Spaces are ignored.
func bits(s string) []byte {
	s = strings.ReplaceAll(s, " ", "")
	p := make([]byte, len(s)/8)
	for i := range p {
		fmt.Sscanf(s[i*8:i*8+8], "%08b", &p[i])
	}
	return p
}

// clientFrame returns frame bytes as a conforming client would send them.
func clientFrame(op OpCode, p []byte) []byte {
	f := NewFrame(op, true, p)
	f = MaskFrameWith(f, [4]byte{0x37, 0xfa, 0x21, 0x3d})
	return EncodeFrame(f)
}
