package wsrelay

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is matched by every ProtocolError with errors.Is.
var ErrProtocolViolation = errors.New("protocol violation")

// ProtocolError describes error during checking/parsing websocket frames or
// headers. Receiving one is fatal for the connection it came from.
type ProtocolError string

// Error implements error interface.
func (p ProtocolError) Error() string { return "protocol violation: " + string(p) }

// Is makes every ProtocolError match ErrProtocolViolation.
func (p ProtocolError) Is(target error) bool { return target == ErrProtocolViolation }

// Errors used by the frame codec and protocol checkers.
var (
	ErrHeaderLengthMSB                    = ProtocolError("the most significant bit of the payload length must be 0")
	ErrProtocolOpCodeReserved             = ProtocolError("use of reserved control op code")
	ErrProtocolControlPayloadOverflow     = ProtocolError("control frame payload limit exceeded")
	ErrProtocolControlNotFinal            = ProtocolError("control frame is not final")
	ErrProtocolNonZeroRsv                 = ProtocolError("non-zero rsv bits with no extension negotiated")
	ErrProtocolMaskRequired               = ProtocolError("frames from client to server must be masked")
	ErrProtocolMaskUnexpected             = ProtocolError("frames from server to client must be not masked")
	ErrProtocolNonMinimalLength           = ProtocolError("payload length is not minimally encoded")
	ErrProtocolStatusCodeNotInUse         = ProtocolError("status code is not in use")
	ErrProtocolStatusCodeApplicationLevel = ProtocolError("status code is only application level")
	ErrProtocolStatusCodeNoMeaning        = ProtocolError("status code has no meaning yet")
	ErrProtocolStatusCodeUnknown          = ProtocolError("status code is not defined in spec")
	ErrProtocolInvalidUTF8                = ProtocolError("invalid utf8 sequence in close reason")
)

// ErrTruncatedFrame means that the buffer holds fewer bytes than the frame
// declares. Readers should accumulate more bytes and try again.
var ErrTruncatedFrame = fmt.Errorf("truncated frame")

// Errors used by the handshake negotiator.
var (
	ErrMissingHandshakeKey  = fmt.Errorf("handshake error: missing Sec-WebSocket-Key header")
	ErrMalformedHttpRequest = fmt.Errorf("handshake error: malformed HTTP request")
	ErrBadHttpRequestMethod = fmt.Errorf("handshake error: bad HTTP request method")
	ErrBadHttpRequestProto  = fmt.Errorf("handshake error: bad HTTP request protocol version")
)
