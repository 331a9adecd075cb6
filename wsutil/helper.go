package wsutil

import (
	"io"

	"github.com/gobwas/wsrelay"
)

// Message represents a message from peer: operation code of the frame and
// its unmasked payload.
type Message struct {
	OpCode  wsrelay.OpCode
	Payload []byte
}

// ReadMessage is a helper function that reads next frame from r, checks its
// header with given state and returns it as a Message. Masked payload is
// unmasked.
func ReadMessage(r io.Reader, s wsrelay.State) (Message, error) {
	f, err := wsrelay.ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	if err = wsrelay.CheckHeader(f.Header, s); err != nil {
		return Message{}, err
	}
	if f.Header.Masked {
		wsrelay.Cipher(f.Payload, f.Header.Mask, 0)
	}
	return Message{f.Header.OpCode, f.Payload}, nil
}

// ReadClientMessage reads next message from r, considering that caller
// represents server side.
// It is a shortcut for ReadMessage(r, wsrelay.StateServerSide).
func ReadClientMessage(r io.Reader) (Message, error) {
	return ReadMessage(r, wsrelay.StateServerSide)
}

// ReadServerMessage reads next message from r, considering that caller
// represents client side.
// It is a shortcut for ReadMessage(r, wsrelay.StateClientSide).
func ReadServerMessage(r io.Reader) (Message, error) {
	return ReadMessage(r, wsrelay.StateClientSide)
}

// WriteMessage is a helper function that writes message to the w. It
// constructs single frame with given operation code and payload.
// It uses given state to prepare side-dependent things, like cipher
// payload bytes from client to server. It will not mutate p bytes if
// cipher must be made.
func WriteMessage(w io.Writer, s wsrelay.State, op wsrelay.OpCode, p []byte) error {
	f := wsrelay.NewFrame(op, true, p)
	if s.Is(wsrelay.StateClientSide) {
		f = wsrelay.MaskFrame(f)
	}
	return wsrelay.WriteFrame(w, f)
}

// WriteServerMessage writes message to w, considering that caller
// represents server side.
func WriteServerMessage(w io.Writer, op wsrelay.OpCode, p []byte) error {
	return WriteMessage(w, wsrelay.StateServerSide, op, p)
}

// WriteServerText is the same as WriteServerMessage with
// wsrelay.OpText.
func WriteServerText(w io.Writer, p []byte) error {
	return WriteServerMessage(w, wsrelay.OpText, p)
}

// WriteClientMessage writes message to w, considering that caller
// represents client side.
func WriteClientMessage(w io.Writer, op wsrelay.OpCode, p []byte) error {
	return WriteMessage(w, wsrelay.StateClientSide, op, p)
}

// WriteClientText is the same as WriteClientMessage with
// wsrelay.OpText.
func WriteClientText(w io.Writer, p []byte) error {
	return WriteClientMessage(w, wsrelay.OpText, p)
}

// WriteClientBinary is the same as WriteClientMessage with
// wsrelay.OpBinary.
func WriteClientBinary(w io.Writer, p []byte) error {
	return WriteClientMessage(w, wsrelay.OpBinary, p)
}
