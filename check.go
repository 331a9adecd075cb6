package wsrelay

import "unicode/utf8"

// State represents state of websocket endpoint.
// It used by some functions to be more strict when checking compatibility with RFC6455.
type State uint8

const (
	// StateServerSide means that endpoint (caller) is a server.
	StateServerSide State = 0x1 << iota
	// StateClientSide means that endpoint (caller) is a client.
	StateClientSide
	// StateExtended means that extension was negotiated during handshake.
	StateExtended
	// StateStrictLength means that payload lengths encoded with more bytes
	// than necessary are rejected.
	StateStrictLength
)

// Is checks whether the s has v enabled.
func (s State) Is(v State) bool {
	return uint8(s)&uint8(v) != 0
}

// Set enables v state on s.
func (s State) Set(v State) State {
	return s | v
}

// Clear disables v state on s.
func (s State) Clear(v State) State {
	return s & (^v)
}

// SetOrClearIf enables or disables v state on s depending on cond.
func (s State) SetOrClearIf(cond bool, v State) (ret State) {
	if cond {
		ret = s.Set(v)
	} else {
		ret = s.Clear(v)
	}
	return
}

// CheckHeader checks h to contain valid header data for given state s.
//
// Reserved data operation codes (0x3-0x7) are let through so that a handler
// may interpret them; reserved control codes (0xb-0xf) are rejected.
//
// Note that zero state (0) means that state is clean,
// neither server or client side, nor extended.
func CheckHeader(h Header, s State) error {
	if h.OpCode.IsControl() {
		if h.OpCode.IsReserved() {
			return ErrProtocolOpCodeReserved
		}
		if h.Length > MaxControlFramePayloadSize {
			return ErrProtocolControlPayloadOverflow
		}
		if !h.Fin {
			return ErrProtocolControlNotFinal
		}
	}

	switch {
	// [RFC6455]: MUST be 0 unless an extension is negotiated that defines meanings for
	// non-zero values. If a nonzero value is received and none of the
	// negotiated extensions defines the meaning of such a nonzero value, the
	// receiving endpoint MUST _Fail the WebSocket Connection_.
	case h.Rsv != 0 && !s.Is(StateExtended):
		return ErrProtocolNonZeroRsv

	// [RFC6455]: The server MUST close the connection upon receiving a frame that is not masked.
	// A server MUST NOT mask any frames that it sends to the client.
	// A client MUST close a connection if it detects a masked frame.
	case s.Is(StateServerSide) && !h.Masked:
		return ErrProtocolMaskRequired
	case s.Is(StateClientSide) && h.Masked:
		return ErrProtocolMaskUnexpected
	}

	return nil
}

// checkLengthEncoding reports whether the 7-bit length prefix is the minimal
// one for the given payload length.
//
// [RFC6455]: Note that in all cases, the minimal number of bytes MUST be used
// to encode the length.
func checkLengthEncoding(prefix byte, length int64) error {
	switch {
	case prefix == 126 && length < 126:
		return ErrProtocolNonMinimalLength
	case prefix == 127 && length <= len16:
		return ErrProtocolNonMinimalLength
	}
	return nil
}

// CheckCloseFrameData checks received close information
// to be valid RFC6455 compatible close info.
//
// If endpoint sends close frame without status code (with frame.Length = 0),
// application should not check its payload.
func CheckCloseFrameData(code StatusCode, reason string) error {
	switch {
	case code.IsNotUsed():
		return ErrProtocolStatusCodeNotInUse

	case code.IsProtocolReserved():
		return ErrProtocolStatusCodeApplicationLevel

	case code == StatusNoMeaningYet:
		return ErrProtocolStatusCodeNoMeaning

	case code.IsProtocolSpec() && !code.IsProtocolDefined():
		return ErrProtocolStatusCodeUnknown

	case !utf8.ValidString(reason):
		return ErrProtocolInvalidUTF8

	default:
		return nil
	}
}
