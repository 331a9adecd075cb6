package hub

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// Errors returned by Registry.Register.
var (
	ErrDuplicateID    = errors.New("duplicate connection id")
	ErrRegistryClosed = errors.New("registry is closed")
)

// Registry maps connection identities to live connections. It is safe for
// concurrent use; all access to the mapping is serialized by a single mutex.
type Registry struct {
	log *slog.Logger

	mu     sync.Mutex
	conns  map[ID]*Conn
	closed bool
	bye    []byte
}

// NewRegistry creates empty Registry. If log is nil, slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		conns: make(map[ID]*Conn),
	}
}

// Register adds c to the registry. It returns ErrDuplicateID if connection
// with the same identity is already registered.
//
// If CloseAll was already called, c is sent the frame given to CloseAll and
// closed, and ErrRegistryClosed is returned.
//
// Registered connection is removed automatically once it is closed.
func (r *Registry) Register(c *Conn) error {
	r.mu.Lock()
	if r.closed {
		bye := r.bye
		r.mu.Unlock()
		if bye != nil {
			c.Send(bye)
		}
		c.Close()
		return ErrRegistryClosed
	}
	if _, has := r.conns[c.ID()]; has {
		r.mu.Unlock()
		return ErrDuplicateID
	}
	r.conns[c.ID()] = c
	r.mu.Unlock()

	c.OnClose(func(c *Conn, _ error) {
		r.Unregister(c.ID())
	})

	return nil
}

// Unregister removes connection with given identity. It returns false if
// there was no such connection.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, has := r.conns[id]; !has {
		return false
	}
	delete(r.conns, id)
	return true
}

// Lookup returns registered connection with given identity.
func (r *Registry) Lookup(id ID) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Each calls fn for every registered connection until fn returns false.
// Connections are taken as of the call; fn may use the registry.
func (r *Registry) Each(fn func(*Conn) bool) {
	for _, c := range r.snapshot(ID{}) {
		if !fn(c) {
			return
		}
	}
}

// BroadcastExcept sends already encoded frame to every registered connection
// except the one with sender identity. It returns the number of connections
// the frame was queued for.
//
// A connection that fails to accept the frame is removed from the registry;
// delivery to others is not affected.
func (r *Registry) BroadcastExcept(sender ID, frame []byte) (n int) {
	for _, c := range r.snapshot(sender) {
		if err := c.Send(frame); err != nil {
			r.log.Debug("dropping peer",
				"conn", c.ID().String(),
				"err", err,
			)
			r.Unregister(c.ID())
			c.Close()
			continue
		}
		n++
	}
	return n
}

// Broadcast sends already encoded frame to every registered connection.
func (r *Registry) Broadcast(frame []byte) int {
	return r.BroadcastExcept(ID{}, frame)
}

// CloseAll closes every registered connection after it writes given frame.
// Frame may be nil. Connections registered after CloseAll are closed the
// same way.
func (r *Registry) CloseAll(frame []byte) {
	r.mu.Lock()
	r.closed = true
	r.bye = frame
	r.mu.Unlock()

	for _, c := range r.snapshot(ID{}) {
		if frame != nil {
			c.Send(frame)
		}
		c.Close()
	}
}

// snapshot returns registered connections except the one with given
// identity.
func (r *Registry) snapshot(except ID) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := make([]*Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id == except {
			continue
		}
		cs = append(cs, c)
	}
	return cs
}
