package wsutil

import (
	"bytes"
	"io"

	"github.com/gobwas/pool/pbytes"
	"github.com/pkg/errors"

	"github.com/gobwas/wsrelay"
)

// Errors returned by Decoder.
var (
	ErrNotHandshake   = errors.New("not a handshake request")
	ErrHeaderTooLarge = errors.New("handshake request headers too large")
	ErrFrameTooLarge  = errors.New("frame payload limit exceeded")
)

const (
	// DefaultMaxHeaderSize is used when Decoder.MaxHeaderSize is zero.
	DefaultMaxHeaderSize = 4096

	minBufferSize = 512
	maxGrowStep   = 1 << 20
)

// Decoder reads handshake requests and frames from Source. It accumulates
// bytes across reads until a whole request or frame is buffered, so that a
// frame split over several reads is never decoded from a partial buffer.
//
// Bytes that follow a decoded request or frame stay buffered for the next
// call.
//
// Note that Decoder's methods are not goroutine safe.
type Decoder struct {
	Source io.Reader
	State  wsrelay.State

	// MaxFrameSize limits payload length of a single frame. Zero means no
	// limit.
	MaxFrameSize int64

	// MaxHeaderSize limits size of handshake request in bytes. Zero means
	// DefaultMaxHeaderSize.
	MaxHeaderSize int

	buf []byte
}

// NewDecoder creates Decoder that reads from r keeping given state to make
// protocol validity checks.
func NewDecoder(r io.Reader, s wsrelay.State) *Decoder {
	return &Decoder{
		Source: r,
		State:  s,
	}
}

// NewServerSideDecoder is a helper function that calls NewDecoder with r and
// wsrelay.StateServerSide.
func NewServerSideDecoder(r io.Reader) *Decoder {
	return NewDecoder(r, wsrelay.StateServerSide)
}

// NewClientSideDecoder is a helper function that calls NewDecoder with r and
// wsrelay.StateClientSide.
func NewClientSideDecoder(r io.Reader) *Decoder {
	return NewDecoder(r, wsrelay.StateClientSide)
}

// Buffered returns the number of bytes read from Source but not decoded yet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// NextHandshake returns bytes of handshake request up to and including the
// blank line that ends its headers.
//
// It returns ErrNotHandshake as soon as buffered bytes can not start a GET
// request and ErrHeaderTooLarge if no blank line appears within
// MaxHeaderSize bytes.
func (d *Decoder) NextHandshake() ([]byte, error) {
	limit := d.MaxHeaderSize
	if limit <= 0 {
		limit = DefaultMaxHeaderSize
	}
	for {
		if len(d.buf) > len("GET") && !wsrelay.Recognize(d.buf) {
			return nil, ErrNotHandshake
		}
		if i := bytes.Index(d.buf, wsrelay.HeaderEnd); i != -1 {
			n := i + len(wsrelay.HeaderEnd)
			req := make([]byte, n)
			copy(req, d.buf)
			d.consume(n)
			return req, nil
		}
		if len(d.buf) >= limit {
			return nil, ErrHeaderTooLarge
		}
		if err := d.fill(min(len(d.buf)+minBufferSize, limit)); err != nil {
			return nil, err
		}
	}
}

// NextFrame returns next frame with its payload fully read and unmasked.
//
// A frame that does not fit into the buffered bytes is not an error: more
// bytes are read from Source until the whole frame is available. A frame
// whose declared length exceeds MaxFrameSize is rejected with
// ErrFrameTooLarge as soon as its header is buffered.
func (d *Decoder) NextFrame() (f wsrelay.Frame, err error) {
	for {
		need := len(d.buf) + 1

		h, hn, err := wsrelay.ParseHeader(d.buf)
		switch {
		case err == wsrelay.ErrTruncatedFrame:
		case err != nil:
			return f, err
		default:
			if err = wsrelay.CheckHeader(h, d.State); err != nil {
				return f, err
			}
			if d.MaxFrameSize > 0 && h.Length > d.MaxFrameSize {
				return f, ErrFrameTooLarge
			}
			if h.Length > wsrelay.PlatformSizeLimit-int64(hn) {
				return f, ErrFrameTooLarge
			}
			need = hn + int(h.Length)
		}
		if len(d.buf) >= need {
			f, n, err := wsrelay.DecodeFrame(d.buf, d.State)
			if err != nil {
				return f, err
			}
			d.consume(n)
			return f, nil
		}
		if err = d.fill(need); err != nil {
			return f, err
		}
	}
}

// Reset makes d read from r. Buffered bytes are dropped.
func (d *Decoder) Reset(r io.Reader) {
	d.Source = r
	d.buf = d.buf[:0]
}

// Release returns d's buffer to the pool. Decoder may be used after Release.
func (d *Decoder) Release() {
	if d.buf != nil {
		pbytes.Put(d.buf)
		d.buf = nil
	}
}

// fill makes a single read from Source trying to make at least need bytes
// buffered.
func (d *Decoder) fill(need int) error {
	d.grow(need)

	n, err := d.Source.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if n > 0 {
		return nil
	}
	if err == io.EOF && len(d.buf) > 0 {
		return io.ErrUnexpectedEOF
	}
	if err == io.EOF {
		return err
	}
	if err != nil {
		return errors.Wrap(err, "read")
	}
	return nil
}

// grow makes room for reading more bytes, up to need bytes in total. Growth
// is limited by maxGrowStep per call so that a declared length that is never
// delivered does not allocate the whole size up front.
func (d *Decoder) grow(need int) {
	if need > len(d.buf)+maxGrowStep {
		need = len(d.buf) + maxGrowStep
	}
	if need <= len(d.buf) {
		need = len(d.buf) + 1
	}
	if need <= cap(d.buf) {
		return
	}
	c := max(need, 2*cap(d.buf), minBufferSize)
	p := pbytes.GetCap(c)
	p = append(p, d.buf...)
	if d.buf != nil {
		pbytes.Put(d.buf)
	}
	d.buf = p
}

func (d *Decoder) consume(n int) {
	m := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:m]
}
