/*
Package wsrelay implements the wire level of the WebSocket protocol as
specified in RFC 6455: frame encoding and decoding, payload masking and the
opening handshake. Packages hub and server build a message relay on top of it.

The frame codec works with byte slices:

	f, n, err := wsrelay.DecodeFrame(buf, wsrelay.StateServerSide)
	if err == wsrelay.ErrTruncatedFrame {
		// read more bytes into buf and try again
	}

	out := wsrelay.Encode([]byte("hello, world!"), wsrelay.OpText)

Or with streams:

	header, err := wsrelay.ReadHeader(conn)
	if err != nil {
		// handle err
	}
	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		// handle err
	}
	if header.Masked {
		wsrelay.Cipher(payload, header.Mask, 0)
	}

The handshake negotiator turns request header text into the upgrade
response:

	resp, err := wsrelay.Negotiate(request)
	if err != nil {
		conn.Write(wsrelay.RejectResponse(err))
		return
	}
	conn.Write(resp)

Every error that describes a protocol violation matches ErrProtocolViolation
with errors.Is. Such errors are fatal for the connection.
*/
package wsrelay
