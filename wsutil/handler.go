package wsutil

import (
	"strconv"

	"github.com/gobwas/wsrelay"
)

// ClosedError returned when peer has closed the connection with appropriate
// code and a textual reason.
type ClosedError struct {
	Code   wsrelay.StatusCode
	Reason string
}

// Error implements error interface.
func (err ClosedError) Error() string {
	return "ws closed: " + strconv.FormatUint(uint64(err.Code), 10) + " " + err.Reason
}

// ControlReply returns encoded frame that must be sent to the peer in
// response to the control frame f received from it. Reply is nil when no
// response is expected.
//
// For a close frame the returned error is ClosedError, or the protocol error
// that the close frame carries. In both cases the connection must not be read
// anymore.
func ControlReply(f wsrelay.Frame) (reply []byte, err error) {
	switch f.Header.OpCode {
	case wsrelay.OpPing:
		return wsrelay.Encode(f.Payload, wsrelay.OpPong), nil

	case wsrelay.OpPong:
		// RFC6455: A Pong frame MAY be sent unsolicited. This serves as a
		// unidirectional heartbeat. A response to an unsolicited Pong frame
		// is not expected.
		return nil, nil

	case wsrelay.OpClose:
		return closeReply(f.Payload)
	}
	return nil, nil
}

func closeReply(p []byte) ([]byte, error) {
	if len(p) == 0 {
		// Respond with no close status code. This is okay by RFC.
		// Due to RFC, we should interpret the code as no status code
		// received:
		//   If this Close control frame contains no status code, _The WebSocket
		//   Connection Close Code_ is considered to be 1005.
		//
		// See https://tools.ietf.org/html/rfc6455#section-7.1.5
		return wsrelay.CompiledClose, ClosedError{
			Code: wsrelay.StatusNoStatusRcvd,
		}
	}
	code, reason := wsrelay.ParseCloseFrameData(p)
	if err := wsrelay.CheckCloseFrameData(code, reason); err != nil {
		return ProtocolErrorReply(err), err
	}
	// RFC6455#5.5.1:
	// If an endpoint receives a Close frame and did not previously
	// send a Close frame, the endpoint MUST send a Close frame in
	// response. (When sending a Close frame in response, the endpoint
	// typically echos the status code it received.)
	reply := wsrelay.Encode(wsrelay.NewCloseFrameBody(code, ""), wsrelay.OpClose)
	return reply, ClosedError{
		Code:   code,
		Reason: reason,
	}
}

// ProtocolErrorReply returns encoded close frame with protocol error status
// code and err description as a reason.
func ProtocolErrorReply(err error) []byte {
	return CloseReply(wsrelay.StatusProtocolError, err.Error())
}

// CloseReply returns encoded close frame with given code and reason. The
// reason is cropped to fit the control frame payload limit.
func CloseReply(code wsrelay.StatusCode, reason string) []byte {
	return wsrelay.Encode(wsrelay.NewCloseFrameBody(code, reason), wsrelay.OpClose)
}
