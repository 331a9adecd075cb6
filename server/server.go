// Package server accepts TCP connections, upgrades them to websocket and
// serves every connection with its own read loop.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/gobwas/wsrelay"
	"github.com/gobwas/wsrelay/hub"
)

// Handler handles frames received from established connections.
//
// HandleMessage is called for every decoded frame, control frames included,
// before the connection loop replies to them. It returns false if the frame
// was ignored.
type Handler interface {
	HandleMessage(c *hub.Conn, payload []byte, op wsrelay.OpCode) bool
}

// HandlerFunc is an adapter to allow the use of ordinary functions as
// Handler.
type HandlerFunc func(c *hub.Conn, payload []byte, op wsrelay.OpCode) bool

// HandleMessage calls f(c, payload, op).
func (f HandlerFunc) HandleMessage(c *hub.Conn, payload []byte, op wsrelay.OpCode) bool {
	return f(c, payload, op)
}

// BroadcastHandler returns Handler that relays text and binary frames to
// every connection of r except the sender. Other frames are ignored.
func BroadcastHandler(r *hub.Registry) Handler {
	return HandlerFunc(func(c *hub.Conn, p []byte, op wsrelay.OpCode) bool {
		if op != wsrelay.OpText && op != wsrelay.OpBinary {
			return false
		}
		r.BroadcastExcept(c.ID(), wsrelay.Encode(p, op))
		return true
	})
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server is a websocket relay server.
type Server struct {
	cfg     Config
	handler Handler
	reg     *hub.Registry
	log     *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates Server with given config. If h is nil, frames are relayed with
// BroadcastHandler.
func New(cfg Config, h Handler) *Server {
	log := cfg.logger()
	reg := hub.NewRegistry(log)
	if h == nil {
		h = BroadcastHandler(reg)
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		reg:     reg,
		log:     log,
	}
}

// Registry returns registry of established connections.
func (s *Server) Registry() *hub.Registry {
	return s.reg
}

// Addr returns address of the listener. It returns nil if server is not
// serving yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen opens listening socket on the configured address.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	lc := net.ListenConfig{
		Control: control(s.cfg.ReusePort),
	}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %q", s.cfg.Addr)
	}
	return ln, nil
}

// ListenAndServe listens on the configured address and serves connections
// until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done or ln is closed. Each
// connection is served in its own goroutine.
//
// When ctx is done, established connections are sent a going away close
// frame and closed. Serve returns after all connection goroutines exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			delay = backoff(delay)
			s.log.Warn("accept failed", "err", err, "retry", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}

	ln.Close()
	s.reg.CloseAll(wsrelay.CompiledCloseGoingAway)
	s.wg.Wait()

	s.log.Info("stopped", "addr", ln.Addr().String())

	return nil
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	l := newLoop(s, nc)
	defer l.release()

	stop := context.AfterFunc(ctx, l.interrupt)
	defer stop()

	err := l.run(ctx)
	switch {
	case err == nil:
		l.log.Debug("connection closed")
	case isClosed(err):
		l.log.Debug("connection closed", "err", err)
	default:
		l.log.Warn("connection failed", "err", err)
	}

	s.reg.Unregister(l.conn.ID())
	l.conn.Close()
	<-l.conn.Done()
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(2*d, maxAcceptDelay)
}
