package hub

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/gobwas/pool/pbufio"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/gobwas/wsrelay"
)

// Errors returned by Conn.
var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("too many pending frames")
)

// DefaultWriteBufferSize is used when ConnConfig.WriteBufferSize is zero.
const DefaultWriteBufferSize = 4096

// ConnConfig contains options for Conn.
type ConnConfig struct {
	// WriteTimeout limits time of writing each batch of pending frames.
	// Zero means no limit.
	WriteTimeout time.Duration

	// MaxPending limits number of frames waiting to be written. A
	// connection that reaches the limit is considered dead. Zero means no
	// limit.
	MaxPending int

	// WriteBufferSize is the size of buffer used to coalesce pending
	// frames.
	WriteBufferSize int

	Logger *slog.Logger
}

// Conn is a websocket connection established with a peer. It owns the write
// side of the underlying socket: frames sent with Send() are queued and
// written by a single goroutine, in order.
//
// Conn's methods are safe for concurrent use.
type Conn struct {
	id  ID
	nc  net.Conn
	cfg ConnConfig
	log *slog.Logger

	mu       sync.Mutex
	pending  *queue.Queue
	closing  bool
	finished bool
	err      error
	onClose  []func(*Conn, error)

	alive atomic.Bool
	wake  chan struct{}
	done  chan struct{}
}

// NewConn creates Conn with new random identity that writes to nc.
func NewConn(nc net.Conn, cfg ConnConfig) *Conn {
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = DefaultWriteBufferSize
	}
	id := NewID()
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		id:      id,
		nc:      nc,
		cfg:     cfg,
		log:     log.With("conn", id.String()),
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.alive.Store(true)

	go c.writeLoop()

	return c
}

// ID returns identity of the connection.
func (c *Conn) ID() ID { return c.id }

// RemoteAddr returns address of the peer.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Alive reports whether the connection accepts frames.
func (c *Conn) Alive() bool { return c.alive.Load() }

// Done returns channel that is closed when the underlying socket is closed
// and OnClose callbacks are done.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason of the connection failure, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnClose registers fn to be called once the connection is closed. If the
// connection is already closed fn is called immediately.
//
// All registered callbacks return before Done() channel is closed.
func (c *Conn) OnClose(fn func(*Conn, error)) {
	c.mu.Lock()
	if c.finished {
		err := c.err
		c.mu.Unlock()
		fn(c, err)
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Send queues already encoded frame to be written to the peer. Frame bytes
// must not be modified after the call; the same bytes may be sent to many
// connections.
//
// It returns ErrConnClosed if connection is closed or closing. It returns
// ErrSlowConsumer and fails the connection if too many frames are pending.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if n := c.cfg.MaxPending; n > 0 && c.pending.Length() >= n {
		c.mu.Unlock()
		c.fail(ErrSlowConsumer)
		return ErrSlowConsumer
	}
	c.pending.Add(frame)
	c.mu.Unlock()

	c.notify()

	return nil
}

// WriteMessage encodes payload p as a frame of kind op and sends it.
func (c *Conn) WriteMessage(op wsrelay.OpCode, p []byte) error {
	return c.Send(wsrelay.Encode(p, op))
}

// WriteText sends text frame with payload p.
func (c *Conn) WriteText(p []byte) error {
	return c.WriteMessage(wsrelay.OpText, p)
}

// WriteBinary sends binary frame with payload p.
func (c *Conn) WriteBinary(p []byte) error {
	return c.WriteMessage(wsrelay.OpBinary, p)
}

// Close stops accepting frames, writes frames that are already queued and
// then closes the socket. It does not wait for that; use Done() to wait.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.alive.Store(false)
	c.mu.Unlock()

	c.notify()

	return nil
}

// fail closes the connection without writing pending frames.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.closing = true
	c.alive.Store(false)
	c.mu.Unlock()

	// Unblock both writer and reader of the socket.
	c.nc.Close()
	c.notify()
}

func (c *Conn) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) writeLoop() {
	bw := pbufio.GetWriter(c.nc, c.cfg.WriteBufferSize)
	defer pbufio.PutWriter(bw)

	var batch [][]byte
	for range c.wake {
		c.mu.Lock()
		for c.pending.Length() > 0 {
			batch = append(batch, c.pending.Remove().([]byte))
		}
		closing := c.closing
		failed := c.err != nil
		c.mu.Unlock()

		if len(batch) > 0 && !failed {
			if err := c.flush(bw, batch); err != nil {
				c.log.Debug("write failed", "err", err)
				c.fail(errors.Wrap(err, "write"))
			}
		}
		for i := range batch {
			batch[i] = nil
		}
		batch = batch[:0]

		if closing {
			break
		}
	}

	c.finish()
}

func (c *Conn) flush(bw *bufio.Writer, batch [][]byte) error {
	if t := c.cfg.WriteTimeout; t > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	for _, p := range batch {
		if _, err := bw.Write(p); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (c *Conn) finish() {
	c.nc.Close()

	c.mu.Lock()
	err := c.err
	hooks := c.onClose
	c.onClose = nil
	c.finished = true
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(c, err)
	}
	close(c.done)
}
