package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/gobwas/wsrelay"
	"github.com/gobwas/wsrelay/hub"
	"github.com/gobwas/wsrelay/wsutil"
)

// Config contains options of Server.
type Config struct {
	// Addr is the host:port to listen on.
	Addr string

	// ReusePort enables SO_REUSEPORT on the listening socket where the
	// platform supports it.
	ReusePort bool

	// HandshakeTimeout limits time between accepting a connection and
	// receiving its whole handshake request. Zero means no limit.
	HandshakeTimeout time.Duration

	// IdleTimeout limits time of waiting for the next frame. Zero means no
	// limit.
	IdleTimeout time.Duration

	// WriteTimeout limits time of writing queued frames to a peer. Zero
	// means no limit.
	WriteTimeout time.Duration

	// MaxHeaderSize limits size of handshake request.
	MaxHeaderSize int

	// MaxFrameSize limits payload length of received frames. Zero means no
	// limit.
	MaxFrameSize int64

	// MaxPending limits number of frames queued for a peer before it is
	// dropped as a slow consumer. Zero means no limit.
	MaxPending int

	// ReadRate limits number of frames per second read from a single
	// connection. Zero means no limit.
	ReadRate  rate.Limit
	ReadBurst int

	// StrictLength makes payload lengths encoded with more bytes than
	// necessary a protocol violation.
	StrictLength bool

	// Logger is used for server and connection events. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// DefaultConfig returns Config with reasonable limits.
func DefaultConfig() Config {
	return Config{
		Addr:             "127.0.0.1:1234",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxHeaderSize:    wsutil.DefaultMaxHeaderSize,
		MaxFrameSize:     16 << 20,
		MaxPending:       1024,
	}
}

// Validate checks c to be usable by Server.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.Wrapf(err, "bad address %q", c.Addr)
	}
	switch {
	case c.HandshakeTimeout < 0:
		return errors.New("negative handshake timeout")
	case c.IdleTimeout < 0:
		return errors.New("negative idle timeout")
	case c.WriteTimeout < 0:
		return errors.New("negative write timeout")
	case c.MaxHeaderSize < 0:
		return errors.New("negative max header size")
	case c.MaxFrameSize < 0:
		return errors.New("negative max frame size")
	case c.MaxPending < 0:
		return errors.New("negative max pending frames")
	case c.ReadRate < 0:
		return errors.New("negative read rate")
	case c.ReadRate > 0 && c.ReadBurst < 0:
		return errors.New("negative read burst")
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) state() wsrelay.State {
	s := wsrelay.StateServerSide
	return s.SetOrClearIf(c.StrictLength, wsrelay.StateStrictLength)
}

func (c Config) connConfig(log *slog.Logger) hub.ConnConfig {
	return hub.ConnConfig{
		WriteTimeout: c.WriteTimeout,
		MaxPending:   c.MaxPending,
		Logger:       log,
	}
}

func (c Config) limiter() *rate.Limiter {
	if c.ReadRate <= 0 {
		return nil
	}
	return rate.NewLimiter(c.ReadRate, max(c.ReadBurst, 1))
}
