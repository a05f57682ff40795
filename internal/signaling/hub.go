// Package signaling implements the room-relay core of the consultation
// service: a connection registry, a room manager, and the relays that
// forward WebRTC handshake messages and chat between room members.
package signaling

import (
	"github.com/sirupsen/logrus"
)

// MessageSink receives a copy of every relayed chat message. Chat
// persistence is a collaborator concern, not the relay's: the hub works
// with a nil sink and never blocks relaying on sink errors.
type MessageSink interface {
	SaveMessage(roomID, sender, text, at string) error
}

// Hub ties the connection registry, the room manager and the two relays
// together. It is the single entry point the transport layer talks to:
// Connect on handshake, HandleEvent per inbound frame, Disconnect on
// close.
//
// All methods are safe for concurrent use from many connection
// goroutines; shared state lives behind the registry's and room
// manager's own locks.
type Hub struct {
	registry *Registry
	rooms    *RoomManager
	sink     MessageSink
	log      *logrus.Entry
}

// NewHub creates a Hub. sink may be nil to disable chat persistence.
func NewHub(logger *logrus.Entry, sink MessageSink) *Hub {
	return &Hub{
		registry: NewRegistry(logger),
		rooms:    NewRoomManager(logger),
		sink:     sink,
		log:      logger,
	}
}

// Registry exposes the connection registry, mainly for tests and
// operational introspection.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms exposes the room manager.
func (h *Hub) Rooms() *RoomManager { return h.rooms }

// Connect registers a new connection. The connection is not in any room
// until it issues an explicit join-room; nothing is broadcast here.
func (h *Hub) Connect(user string, peer Peer) *Conn {
	return h.registry.Register(user, peer)
}

// Disconnect removes a connection from every room it joined and
// notifies the remaining members of each, so the other side of a call
// can tear down its peer connection instead of hanging. Idempotent:
// only the first call for a given connection performs cleanup.
func (h *Hub) Disconnect(c *Conn) {
	if !h.registry.Unregister(c.ID) {
		return
	}

	for _, roomID := range h.rooms.RoomsOf(c) {
		h.rooms.Leave(roomID, c)
		h.broadcast(roomID, c, &Envelope{Event: EventPeerLeft, RoomID: roomID})
	}
}

// HandleEvent dispatches one decoded inbound frame. Malformed frames
// are dropped with a warning and a best-effort error reply to the
// sender; they are never surfaced to other connections.
func (h *Hub) HandleEvent(c *Conn, env *Envelope) {
	switch env.Event {
	case EventJoinRoom:
		if env.RoomID == "" {
			h.reject(c, env.Event, ErrMissingRoomID.Error())
			return
		}
		h.rooms.Join(env.RoomID, c)

	case EventSendMessage:
		h.onMessage(c, env)

	case EventCallUser, EventCallAccepted, EventIceCandidate:
		sig, err := ParseSignal(env)
		if err != nil {
			h.reject(c, env.Event, err.Error())
			return
		}
		h.onSignal(c, sig)

	default:
		h.reject(c, env.Event, ErrUnknownEvent.Error())
	}
}

// onSignal forwards a validated handshake message to every other room
// member. The payload is relayed untouched; candidates may arrive many
// times and in any order, and the relay imposes no ordering or
// deduplication of its own.
func (h *Hub) onSignal(c *Conn, sig Signal) {
	others := h.others(sig.RoomID, c)
	if len(others) == 0 {
		// Nobody to ring; the caller times out on its own.
		h.log.WithFields(logrus.Fields{
			"room": sig.RoomID,
			"kind": sig.Kind.String(),
			"conn": c.ID,
		}).Debug("signal dropped, no other members")
		return
	}

	switch sig.Kind {
	case KindOffer:
		if !h.rooms.claimOffer(sig.RoomID, c.ID) {
			h.reject(c, EventCallUser, "another offer is pending in this room")
			return
		}
	case KindAnswer:
		h.rooms.resolveOffer(sig.RoomID)
	}

	out := sig.outbound()
	for _, peer := range others {
		h.deliver(peer, out)
	}
}

// onMessage relays a chat message verbatim to every other room member.
func (h *Hub) onMessage(c *Conn, env *Envelope) {
	if env.RoomID == "" {
		h.reject(c, env.Event, ErrMissingRoomID.Error())
		return
	}
	if env.Message == "" {
		h.reject(c, env.Event, ErrMissingPayload.Error())
		return
	}

	if h.sink != nil {
		if err := h.sink.SaveMessage(env.RoomID, env.Sender, env.Message, env.Time); err != nil {
			h.log.WithError(err).WithField("room", env.RoomID).Warn("chat sink failed")
		}
	}

	h.broadcast(env.RoomID, c, &Envelope{
		Event:   EventReceiveMessage,
		RoomID:  env.RoomID,
		Message: env.Message,
		Sender:  env.Sender,
		Time:    env.Time,
	})
}

// broadcast delivers an envelope to every member of roomID except the
// sender. An unknown room is a zero-recipient broadcast.
func (h *Hub) broadcast(roomID string, except *Conn, env *Envelope) {
	for _, peer := range h.others(roomID, except) {
		h.deliver(peer, env)
	}
}

func (h *Hub) others(roomID string, except *Conn) []*Conn {
	members := h.rooms.MembersOf(roomID)
	out := members[:0]
	for _, m := range members {
		if except == nil || m.ID != except.ID {
			out = append(out, m)
		}
	}
	return out
}

// deliver enqueues without blocking. A member whose queue is full is
// closed rather than allowed to stall delivery to the rest of the room;
// its own disconnect path then runs the usual cleanup.
func (h *Hub) deliver(c *Conn, env *Envelope) {
	if c.peer.Enqueue(env) {
		return
	}
	h.log.WithFields(logrus.Fields{"conn": c.ID, "user": c.User}).
		Warn("send queue full, closing slow connection")
	c.peer.Close()
}

// reject logs a malformed or disallowed frame and answers the sender
// with a best-effort diagnostic.
func (h *Hub) reject(c *Conn, event, reason string) {
	h.log.WithFields(logrus.Fields{
		"conn":   c.ID,
		"event":  event,
		"reason": reason,
	}).Warn("dropping frame")
	c.peer.Enqueue(errorEnvelope(reason))
}
