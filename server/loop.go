package server

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/gobwas/wsrelay"
	"github.com/gobwas/wsrelay/hub"
	"github.com/gobwas/wsrelay/wsutil"
)

const (
	stateHandshaking int32 = iota
	stateEstablished
	stateClosed
)

// loop reads from a single connection. It upgrades the connection and then
// decodes frames until the peer closes it or a protocol error occurs.
type loop struct {
	srv     *Server
	nc      net.Conn
	conn    *hub.Conn
	dec     wsutil.Decoder
	limiter *rate.Limiter
	log     *slog.Logger

	state atomic.Int32
}

func newLoop(s *Server, nc net.Conn) *loop {
	conn := hub.NewConn(nc, s.cfg.connConfig(s.log))
	return &loop{
		srv:  s,
		nc:   nc,
		conn: conn,
		dec: wsutil.Decoder{
			Source:        nc,
			State:         s.cfg.state(),
			MaxFrameSize:  s.cfg.MaxFrameSize,
			MaxHeaderSize: s.cfg.MaxHeaderSize,
		},
		limiter: s.cfg.limiter(),
		log: s.log.With(
			"conn", conn.ID().String(),
			"remote", nc.RemoteAddr().String(),
		),
	}
}

func (l *loop) run(ctx context.Context) error {
	for {
		var err error
		switch l.state.Load() {
		case stateHandshaking:
			err = l.handshake()
		case stateEstablished:
			err = l.next(ctx)
		default:
			return nil
		}
		if err != nil {
			l.state.Store(stateClosed)
			return err
		}
	}
}

func (l *loop) handshake() error {
	if t := l.srv.cfg.HandshakeTimeout; t > 0 {
		l.nc.SetReadDeadline(time.Now().Add(t))
	}
	req, err := l.dec.NextHandshake()
	if err != nil {
		return errors.Wrap(err, "read handshake")
	}
	resp, err := wsrelay.Negotiate(req)
	if err != nil {
		l.conn.Send(wsrelay.RejectResponse(err))
		return errors.Wrap(err, "negotiate")
	}
	if err = l.conn.Send(resp); err != nil {
		return errors.Wrap(err, "write handshake")
	}
	if t := l.srv.cfg.HandshakeTimeout; t > 0 {
		l.nc.SetReadDeadline(time.Time{})
	}
	// Register only after the upgrade response is queued so broadcasts are
	// never written before it.
	if err = l.srv.reg.Register(l.conn); err != nil {
		return errors.Wrap(err, "register")
	}
	l.state.Store(stateEstablished)

	l.log.Info("connection established")

	return nil
}

func (l *loop) next(ctx context.Context) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "wait read limit")
		}
	}
	if t := l.srv.cfg.IdleTimeout; t > 0 {
		l.nc.SetReadDeadline(time.Now().Add(t))
	}
	f, err := l.dec.NextFrame()
	if err != nil {
		switch {
		case errors.Is(err, wsrelay.ErrProtocolViolation):
			l.conn.Send(wsutil.ProtocolErrorReply(err))
		case err == wsutil.ErrFrameTooLarge:
			l.conn.Send(wsrelay.CompiledCloseMessageTooBig)
		}
		return errors.Wrap(err, "read frame")
	}

	op := f.Header.OpCode
	if !l.srv.handler.HandleMessage(l.conn, f.Payload, op) {
		l.log.Debug("frame ignored",
			"op", op.String(),
			"len", len(f.Payload),
		)
	}
	if !op.IsControl() {
		return nil
	}

	reply, err := wsutil.ControlReply(f)
	if reply != nil {
		l.conn.Send(reply)
	}
	if err == nil {
		return nil
	}
	l.state.Store(stateClosed)
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		l.log.Info("closed by peer",
			"code", uint16(closed.Code),
			"reason", closed.Reason,
		)
		return nil
	}
	return errors.Wrap(err, "close frame")
}

// interrupt unblocks connection that has not completed the handshake yet.
// Established connections are closed through the registry.
func (l *loop) interrupt() {
	if l.state.Load() == stateHandshaking {
		l.nc.Close()
	}
}

func (l *loop) release() {
	l.dec.Release()
}

func isClosed(err error) bool {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, hub.ErrRegistryClosed),
		errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &ne) && ne.Timeout():
		return true
	}
	return false
}
