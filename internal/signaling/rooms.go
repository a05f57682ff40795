package signaling

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// room is one ephemeral session. Membership lives in the RoomManager's
// indices; the room itself only carries per-room call state, guarded by
// its own lock so call handling in one room never contends with another.
type room struct {
	mu sync.Mutex

	// pendingOffer is the connection ID of the member whose offer is
	// awaiting an answer, or "" when no offer is in flight. It guards
	// against glare: a second concurrent offer is rejected until the
	// first is answered or a member leaves.
	pendingOffer string
}

// RoomManager maps room identifiers to member sets, and connections
// back to the rooms they joined. Rooms are created lazily on first join
// and deleted when their member set becomes empty.
//
// The two indices form a bidirectional invariant: a connection appears
// in a room's member set exactly when the room appears in that
// connection's room set. Both are mutated under one lock so the
// invariant holds at every observable point; broadcast reads take
// snapshots and never hold the lock across sends.
type RoomManager struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	members map[string]map[string]*Conn    // roomID -> connID -> conn
	joined  map[string]map[string]struct{} // connID -> set of roomIDs
	log     *logrus.Entry
}

// NewRoomManager returns an empty RoomManager.
func NewRoomManager(logger *logrus.Entry) *RoomManager {
	return &RoomManager{
		rooms:   make(map[string]*room),
		members: make(map[string]map[string]*Conn),
		joined:  make(map[string]map[string]struct{}),
		log:     logger,
	}
}

// Join adds a connection to a room, creating the room if absent.
// Joining a room the connection is already in is a no-op; duplicate
// client retries must never fail or grow the member set.
func (m *RoomManager) Join(roomID string, c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[roomID]
	if !ok {
		set = make(map[string]*Conn)
		m.members[roomID] = set
		m.rooms[roomID] = &room{}
		m.log.WithField("room", roomID).Info("room created")
	}
	if _, already := set[c.ID]; already {
		return
	}
	set[c.ID] = c

	rooms, ok := m.joined[c.ID]
	if !ok {
		rooms = make(map[string]struct{})
		m.joined[c.ID] = rooms
	}
	rooms[roomID] = struct{}{}

	m.log.WithFields(logrus.Fields{
		"room":    roomID,
		"conn":    c.ID,
		"user":    c.User,
		"members": len(set),
	}).Info("joined room")
}

// Leave removes a connection from a room, deleting the room once empty.
// Unknown rooms and non-members are no-ops, so stale or repeated leave
// calls (disconnect races, client retries) are always safe.
func (m *RoomManager) Leave(roomID string, c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomID, c)
}

func (m *RoomManager) leaveLocked(roomID string, c *Conn) {
	set, ok := m.members[roomID]
	if !ok {
		return
	}
	if _, member := set[c.ID]; !member {
		return
	}
	delete(set, c.ID)

	if rooms := m.joined[c.ID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.joined, c.ID)
		}
	}

	// A departing member abandons any offer in flight; the next offer
	// in the room must not be blocked by a peer that is gone.
	if r := m.rooms[roomID]; r != nil {
		r.mu.Lock()
		r.pendingOffer = ""
		r.mu.Unlock()
	}

	if len(set) == 0 {
		delete(m.members, roomID)
		delete(m.rooms, roomID)
		m.log.WithField("room", roomID).Info("room deleted")
		return
	}

	m.log.WithFields(logrus.Fields{
		"room":    roomID,
		"conn":    c.ID,
		"members": len(set),
	}).Info("left room")
}

// MembersOf returns a snapshot of a room's members. An unknown room
// yields an empty slice, never an error: relaying into a room nobody
// occupies is a zero-recipient broadcast.
func (m *RoomManager) MembersOf(roomID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[roomID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// RoomsOf returns a snapshot of the rooms a connection has joined,
// used for disconnect cleanup.
func (m *RoomManager) RoomsOf(c *Conn) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := m.joined[c.ID]
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// claimOffer attempts to mark an offer from connID as the room's one
// offer in flight. It reports false when a different member's offer is
// already pending (glare); re-offering by the same member replaces its
// own earlier offer rather than deadlocking the room.
func (m *RoomManager) claimOffer(roomID, connID string) bool {
	m.mu.RLock()
	r := m.rooms[roomID]
	m.mu.RUnlock()
	if r == nil {
		// Zero-member room: nothing to claim against, caller drops the
		// offer anyway.
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingOffer != "" && r.pendingOffer != connID {
		return false
	}
	r.pendingOffer = connID
	return true
}

// resolveOffer clears the room's pending-offer slot once an answer has
// been relayed.
func (m *RoomManager) resolveOffer(roomID string) {
	m.mu.RLock()
	r := m.rooms[roomID]
	m.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	r.pendingOffer = ""
	r.mu.Unlock()
}
