package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/gobwas/wsrelay"
	"github.com/gobwas/wsrelay/hub"
	"github.com/gobwas/wsrelay/wsutil"
)

type testServer struct {
	*Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, cfg Config, h Handler) *testServer {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, h)

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := s.Listen(ctx)
	if err != nil {
		cancel()
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	ts := &testServer{
		Server: s,
		addr:   ln.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { ts.done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() { ts.stop(t) })

	return ts
}

func (ts *testServer) stop(t *testing.T) error {
	ts.cancel()
	select {
	case err := <-ts.done:
		ts.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
	return nil
}

func (ts *testServer) url() string {
	return "ws://" + ts.addr + "/"
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url(), nil)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) dialRaw(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitLen(t *testing.T, r *hub.Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("registry has %d connections; want %d", r.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const handshake = "" +
	"GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

const upgradeResponse = "" +
	"HTTP/1.1 101 Switching Protocols\r\n" +
	"Connection: Upgrade\r\n" +
	"Upgrade: websocket\r\n" +
	"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
	"\r\n"

// upgradeRaw performs handshake over conn and returns reader of frames sent
// by server.
func upgradeRaw(t *testing.T, conn net.Conn) *bufio.Reader {
	t.Helper()
	if _, err := conn.Write([]byte(handshake)); err != nil {
		t.Fatal(err)
	}
	br := bufio.NewReader(conn)
	resp := make([]byte, len(upgradeResponse))
	if _, err := io.ReadFull(br, resp); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if string(resp) != upgradeResponse {
		t.Fatalf("unexpected handshake response:\n%q\nwant:\n%q", resp, upgradeResponse)
	}
	return br
}

type message struct {
	op      wsrelay.OpCode
	payload []byte
}

type recorder chan message

func (r recorder) HandleMessage(_ *hub.Conn, p []byte, op wsrelay.OpCode) bool {
	r <- message{op, p}
	return true
}

func (r recorder) next(t *testing.T) message {
	t.Helper()
	select {
	case m := <-r:
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
	}
	return message{}
}

func readClose(t *testing.T, r io.Reader) wsrelay.StatusCode {
	t.Helper()
	m, err := wsutil.ReadServerMessage(r)
	if err != nil {
		t.Fatalf("read close frame: %v", err)
	}
	if m.OpCode != wsrelay.OpClose {
		t.Fatalf("unexpected op code: %v; want %v", m.OpCode, wsrelay.OpClose)
	}
	code, _ := wsrelay.ParseCloseFrameData(m.Payload)
	return code
}

func TestServerRelay(t *testing.T) {
	ts := startServer(t, DefaultConfig(), nil)

	a := ts.dial(t)
	b := ts.dial(t)
	c := ts.dial(t)
	waitLen(t, ts.Registry(), 3)

	if err := a.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*websocket.Conn{b, c} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		typ, p, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() unexpected error: %v", err)
		}
		if typ != websocket.TextMessage || string(p) != "hello" {
			t.Errorf("received %d %q; want %d %q", typ, p, websocket.TextMessage, "hello")
		}
	}

	if err := b.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, p, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || !bytes.Equal(p, []byte{1, 2, 3}) {
		t.Errorf("received %d %v; want %d %v", typ, p, websocket.BinaryMessage, []byte{1, 2, 3})
	}

	// Sender must not receive its own message; it only gets b's message.
	a.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, p, err = a.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage {
		t.Errorf("sender received %d %q; want only binary message from peer", typ, p)
	}
}

func TestServerHandshakeBytes(t *testing.T) {
	rec := make(recorder, 1)
	ts := startServer(t, DefaultConfig(), rec)

	conn := ts.dialRaw(t)
	upgradeRaw(t, conn)
	waitLen(t, ts.Registry(), 1)
}

func TestServerHandshakeWithFrame(t *testing.T) {
	rec := make(recorder, 1)
	ts := startServer(t, DefaultConfig(), rec)

	conn := ts.dialRaw(t)

	var buf bytes.Buffer
	buf.WriteString(handshake)
	wsutil.WriteClientText(&buf, []byte("early"))
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}

	m := rec.next(t)
	if m.op != wsrelay.OpText || string(m.payload) != "early" {
		t.Errorf("handler received %v %q; want %v %q", m.op, m.payload, wsrelay.OpText, "early")
	}
}

func TestServerSplitFrame(t *testing.T) {
	rec := make(recorder, 1)
	ts := startServer(t, DefaultConfig(), rec)

	conn := ts.dialRaw(t)
	upgradeRaw(t, conn)

	var buf bytes.Buffer
	wsutil.WriteClientBinary(&buf, bytes.Repeat([]byte("x"), 300))
	p := buf.Bytes()
	for i := 0; i < len(p); i += 7 {
		if _, err := conn.Write(p[i:min(i+7, len(p))]); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	m := rec.next(t)
	if m.op != wsrelay.OpBinary || len(m.payload) != 300 {
		t.Errorf("handler received %v with %d bytes; want %v with %d bytes", m.op, len(m.payload), wsrelay.OpBinary, 300)
	}
}

func TestServerPing(t *testing.T) {
	rec := make(recorder, 1)
	ts := startServer(t, DefaultConfig(), rec)

	conn := ts.dialRaw(t)
	br := upgradeRaw(t, conn)

	if err := wsutil.WriteClientMessage(conn, wsrelay.OpPing, []byte("are you there?")); err != nil {
		t.Fatal(err)
	}
	if m := rec.next(t); m.op != wsrelay.OpPing {
		t.Errorf("handler received %v; want %v", m.op, wsrelay.OpPing)
	}
	m, err := wsutil.ReadServerMessage(br)
	if err != nil {
		t.Fatal(err)
	}
	if m.OpCode != wsrelay.OpPong || string(m.Payload) != "are you there?" {
		t.Errorf("received %v %q; want %v %q", m.OpCode, m.Payload, wsrelay.OpPong, "are you there?")
	}
}

func TestServerClose(t *testing.T) {
	ts := startServer(t, DefaultConfig(), nil)

	conn := ts.dialRaw(t)
	br := upgradeRaw(t, conn)
	waitLen(t, ts.Registry(), 1)

	body := wsrelay.NewCloseFrameBody(wsrelay.StatusNormalClosure, "bye")
	if err := wsutil.WriteClientMessage(conn, wsrelay.OpClose, body); err != nil {
		t.Fatal(err)
	}
	if code := readClose(t, br); code != wsrelay.StatusNormalClosure {
		t.Errorf("unexpected close code: %v; want %v", code, wsrelay.StatusNormalClosure)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("read after close error is %v; want %v", err, io.EOF)
	}
	waitLen(t, ts.Registry(), 0)
}

func TestServerClientDisconnect(t *testing.T) {
	ts := startServer(t, DefaultConfig(), nil)

	a := ts.dial(t)
	ts.dial(t)
	waitLen(t, ts.Registry(), 2)

	a.Close()
	waitLen(t, ts.Registry(), 1)
}

func TestServerProtocolViolation(t *testing.T) {
	for _, test := range []struct {
		name  string
		cfg   func(*Config)
		frame []byte
		code  wsrelay.StatusCode
	}{
		{
			name:  "unmasked",
			frame: wsrelay.Encode([]byte("hello"), wsrelay.OpText),
			code:  wsrelay.StatusProtocolError,
		},
		{
			name:  "reserved control",
			frame: clientFrame(wsrelay.OpCode(0xb), nil),
			code:  wsrelay.StatusProtocolError,
		},
		{
			name: "too large",
			cfg: func(c *Config) {
				c.MaxFrameSize = 16
			},
			frame: clientFrame(wsrelay.OpBinary, make([]byte, 32)),
			code:  wsrelay.StatusMessageTooBig,
		},
		{
			name: "non-minimal length",
			cfg: func(c *Config) {
				c.StrictLength = true
			},
			frame: []byte{0x81, 0xfe, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 'a'},
			code:  wsrelay.StatusProtocolError,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if test.cfg != nil {
				test.cfg(&cfg)
			}
			ts := startServer(t, cfg, nil)

			conn := ts.dialRaw(t)
			br := upgradeRaw(t, conn)
			waitLen(t, ts.Registry(), 1)

			if _, err := conn.Write(test.frame); err != nil {
				t.Fatal(err)
			}
			if code := readClose(t, br); code != test.code {
				t.Errorf("unexpected close code: %v; want %v", code, test.code)
			}
			waitLen(t, ts.Registry(), 0)
		})
	}
}

func TestServerReservedDataOpCode(t *testing.T) {
	rec := make(recorder, 1)
	ts := startServer(t, DefaultConfig(), rec)

	conn := ts.dialRaw(t)
	upgradeRaw(t, conn)

	if _, err := conn.Write(clientFrame(wsrelay.OpCode(0x3), []byte("custom"))); err != nil {
		t.Fatal(err)
	}
	m := rec.next(t)
	if m.op != wsrelay.OpCode(0x3) || string(m.payload) != "custom" {
		t.Errorf("handler received %v %q; want %v %q", m.op, m.payload, wsrelay.OpCode(0x3), "custom")
	}
}

func TestServerBadHandshake(t *testing.T) {
	for _, test := range []struct {
		name    string
		request string
		prefix  string
	}{
		{
			name:    "not get",
			request: "POST / HTTP/1.1\r\nHost: example.com\r\n\r\n",
			prefix:  "",
		},
		{
			name:    "garbage",
			request: "\x81\x85\x37\xfa\x21\x3d\x7f\x9f\x4d\x51\x58",
			prefix:  "",
		},
		{
			name:    "missing key",
			request: "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n",
			prefix:  "HTTP/1.1 400 Bad Request\r\n",
		},
		{
			name:    "old protocol",
			request: "GET / HTTP/1.0\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n",
			prefix:  "HTTP/1.1 400 Bad Request\r\n",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			ts := startServer(t, DefaultConfig(), nil)

			conn := ts.dialRaw(t)
			if _, err := conn.Write([]byte(test.request)); err != nil {
				t.Fatal(err)
			}
			resp, err := io.ReadAll(conn)
			if err != nil {
				t.Fatalf("read response: %v", err)
			}
			if test.prefix == "" && len(resp) != 0 {
				t.Errorf("unexpected response: %q", resp)
			}
			if !strings.HasPrefix(string(resp), test.prefix) {
				t.Errorf("unexpected response: %q; want prefix %q", resp, test.prefix)
			}
			if n := ts.Registry().Len(); n != 0 {
				t.Errorf("registry has %d connections; want 0", n)
			}
		})
	}
}

func TestServerHandshakeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	ts := startServer(t, cfg, nil)

	conn := ts.dialRaw(t)
	conn.Write([]byte("GET / HTTP/1.1\r\n"))

	if _, err := io.ReadAll(conn); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestServerIdleTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	ts := startServer(t, cfg, nil)

	conn := ts.dialRaw(t)
	br := upgradeRaw(t, conn)
	waitLen(t, ts.Registry(), 1)

	if _, err := io.ReadAll(br); err != nil {
		t.Fatalf("read: %v", err)
	}
	waitLen(t, ts.Registry(), 0)
}

func TestServerReadRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadRate = rate.Every(time.Hour)
	cfg.ReadBurst = 1
	rec := make(recorder, 2)
	ts := startServer(t, cfg, rec)

	conn := ts.dialRaw(t)
	upgradeRaw(t, conn)

	wsutil.WriteClientText(conn, []byte("first"))
	wsutil.WriteClientText(conn, []byte("second"))

	if m := rec.next(t); string(m.payload) != "first" {
		t.Errorf("handler received %q; want %q", m.payload, "first")
	}
	select {
	case m := <-rec:
		t.Errorf("handler received %q over the rate limit", m.payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerShutdown(t *testing.T) {
	ts := startServer(t, DefaultConfig(), nil)

	a := ts.dial(t)
	waitLen(t, ts.Registry(), 1)

	// Connection that did not complete handshake must not block shutdown.
	raw := ts.dialRaw(t)
	raw.Write([]byte("GET / HTTP/1.1\r\n"))

	if err := ts.stop(t); err != nil {
		t.Errorf("Serve() returned error: %v", err)
	}

	a.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error is %v; want going away close error", err)
	}
	if n := ts.Registry().Len(); n != 0 {
		t.Errorf("registry has %d connections after shutdown; want 0", n)
	}
}

func TestBroadcastHandlerIgnoresControl(t *testing.T) {
	h := BroadcastHandler(hub.NewRegistry(nil))
	for _, test := range []struct {
		op  wsrelay.OpCode
		exp bool
	}{
		{wsrelay.OpText, true},
		{wsrelay.OpBinary, true},
		{wsrelay.OpPing, false},
		{wsrelay.OpPong, false},
		{wsrelay.OpClose, false},
		{wsrelay.OpCode(0x3), false},
	} {
		server, client := net.Pipe()
		c := hub.NewConn(server, hub.ConnConfig{})
		if act := h.HandleMessage(c, []byte("x"), test.op); act != test.exp {
			t.Errorf("HandleMessage(%v) = %v; want %v", test.op, act, test.exp)
		}
		client.Close()
		c.Close()
		<-c.Done()
	}
}

func clientFrame(op wsrelay.OpCode, p []byte) []byte {
	return wsrelay.EncodeFrame(wsrelay.MaskFrame(wsrelay.NewFrame(op, true, p)))
}
