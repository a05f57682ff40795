package signaling

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Peer is the outbound half of a connection as seen by the hub. The
// websocket Client implements it; tests substitute in-memory fakes.
type Peer interface {
	// Enqueue offers an envelope to the peer's outbound queue without
	// blocking. It reports false when the queue is full or the peer is
	// already closed.
	Enqueue(*Envelope) bool

	// Close tears the underlying transport down. Idempotent.
	Close()
}

// Conn is the registry's record of one live connection: its identifier,
// the identity the auth collaborator attached at handshake time, and
// the outbound peer. Room membership is tracked by the RoomManager.
type Conn struct {
	ID   string
	User string

	peer Peer
}

// Registry tracks every live connection. It owns Conn records
// exclusively: they are created on Register and forgotten on
// Unregister, with no side effects on rooms.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	log   *logrus.Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		log:   logger,
	}
}

// Register records a new connection and allocates its identifier.
// Called once per transport establishment.
func (r *Registry) Register(user string, peer Peer) *Conn {
	c := &Conn{
		ID:   uuid.NewString(),
		User: user,
		peer: peer,
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"conn":  c.ID,
		"user":  user,
		"total": total,
	}).Debug("connection registered")

	return c
}

// Unregister forgets a connection. It is idempotent: unregistering an
// unknown or already-removed connection is a no-op. It reports whether
// the connection was still registered, so disconnect cleanup runs at
// most once even when read and write pumps race to report the close.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.log.WithFields(logrus.Fields{"conn": id, "total": total}).Debug("connection unregistered")
	}
	return ok
}

// Get looks a connection up by identifier.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
