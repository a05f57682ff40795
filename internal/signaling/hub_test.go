package signaling_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/gramseva/consult-signal/internal/common"
	"github.com/gramseva/consult-signal/internal/signaling"
)

type member struct {
	conn *signaling.Conn
	peer *fakePeer
}

func joinAll(t *testing.T, hub *signaling.Hub, roomID string, users ...string) []member {
	t.Helper()
	out := make([]member, len(users))
	for i, u := range users {
		p := &fakePeer{}
		c := hub.Connect(u, p)
		hub.HandleEvent(c, &signaling.Envelope{Event: signaling.EventJoinRoom, RoomID: roomID})
		out[i] = member{conn: c, peer: p}
	}
	return out
}

func newHub(t *testing.T) *signaling.Hub {
	t.Helper()
	return signaling.NewHub(common.NewTestEntry(t), nil)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b", "c")

	hub.HandleEvent(ms[0].conn, &signaling.Envelope{
		Event:   signaling.EventSendMessage,
		RoomID:  "r1",
		Message: "hello",
		Sender:  "a",
	})

	if got := len(ms[0].peer.events()); got != 0 {
		t.Errorf("sender received %d events, want 0", got)
	}
	for _, m := range ms[1:] {
		evs := m.peer.events()
		if len(evs) != 1 || evs[0] != signaling.EventReceiveMessage {
			t.Errorf("recipient events = %v, want [receive-message]", evs)
		}
	}
}

func TestHub_TwoPartyCallScenario(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "doctor", "patient")
	a, b := ms[0], ms[1]

	offer := json.RawMessage(`{"type":"offer","sdp":"O"}`)
	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: offer})

	got := b.peer.last()
	if got == nil || got.Event != signaling.EventIncomingCall {
		t.Fatalf("B got %+v, want incoming-call", got)
	}
	if !bytes.Equal(got.Offer, offer) {
		t.Errorf("offer relayed as %s, want byte-identical %s", got.Offer, offer)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"X"}`)
	hub.HandleEvent(b.conn, &signaling.Envelope{Event: signaling.EventCallAccepted, RoomID: "r1", Answer: answer})

	got = a.peer.last()
	if got == nil || got.Event != signaling.EventCallAnswered {
		t.Fatalf("A got %+v, want call-answered", got)
	}
	if !bytes.Equal(got.Answer, answer) {
		t.Errorf("answer relayed as %s, want %s", got.Answer, answer)
	}

	cand := json.RawMessage(`{"candidate":"c1","sdpMid":"0"}`)
	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventIceCandidate, RoomID: "r1", Candidate: cand})

	got = b.peer.last()
	if got == nil || got.Event != signaling.EventIncomingIceCandidate {
		t.Fatalf("B got %+v, want incoming-ice-candidate", got)
	}
	if !bytes.Equal(got.Candidate, cand) {
		t.Errorf("candidate relayed as %s, want %s", got.Candidate, cand)
	}
}

func TestHub_OpaquePayloadRoundTrip(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b")

	// Field order and whitespace must survive: the relay never parses
	// or re-encodes the blob.
	raw := json.RawMessage(`{"z":1,  "a": [true, null], "nested":{"k":"v"}}`)
	hub.HandleEvent(ms[0].conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: raw})

	got := ms[1].peer.last()
	if got == nil {
		t.Fatal("no envelope delivered")
	}
	if !bytes.Equal(got.Offer, raw) {
		t.Errorf("payload mutated in relay:\n got %s\nwant %s", got.Offer, raw)
	}
}

func TestHub_OfferToEmptyRoomIsDropped(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a")

	hub.HandleEvent(ms[0].conn, &signaling.Envelope{
		Event:  signaling.EventCallUser,
		RoomID: "r1",
		Offer:  json.RawMessage(`{}`),
	})

	// Silent drop: not even an error reply.
	if got := len(ms[0].peer.events()); got != 0 {
		t.Errorf("caller received %d events, want 0", got)
	}
}

func TestHub_GlareRejectsSecondOffer(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b")
	a, b := ms[0], ms[1]

	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{"from":"a"}`)})
	hub.HandleEvent(b.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{"from":"b"}`)})

	// B's simultaneous offer is rejected, not relayed to A.
	for _, env := range a.peer.events() {
		if env == signaling.EventIncomingCall {
			t.Error("glare offer was relayed to A")
		}
	}
	got := b.peer.last()
	if got == nil || got.Event != signaling.EventError {
		t.Fatalf("B got %+v, want error reply", got)
	}

	// Once A's offer is answered the slot is free again.
	hub.HandleEvent(b.conn, &signaling.Envelope{Event: signaling.EventCallAccepted, RoomID: "r1", Answer: json.RawMessage(`{}`)})
	hub.HandleEvent(b.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{"from":"b"}`)})

	if got := a.peer.last(); got == nil || got.Event != signaling.EventIncomingCall {
		t.Errorf("A got %+v, want incoming-call after slot cleared", got)
	}
}

func TestHub_SameCallerMayReoffer(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b")
	a, b := ms[0], ms[1]

	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{"n":1}`)})
	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{"n":2}`)})

	evs := b.peer.events()
	if len(evs) != 2 {
		t.Fatalf("B received %d events, want 2 (re-offer replaces, not rejected)", len(evs))
	}
	if got := len(a.peer.events()); got != 0 {
		t.Errorf("A received %d events, want 0", got)
	}
}

func TestHub_GlareSlotClearedWhenPartyLeaves(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b", "c")
	a, b, c := ms[0], ms[1], ms[2]

	hub.HandleEvent(a.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{}`)})
	hub.Disconnect(a.conn)

	// A's pending offer must not wedge the room for the others.
	hub.HandleEvent(b.conn, &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1", Offer: json.RawMessage(`{}`)})

	if got := c.peer.last(); got == nil || got.Event != signaling.EventIncomingCall {
		t.Errorf("C got %+v, want incoming-call after offerer left", got)
	}
}

func TestHub_DisconnectNotifiesEveryRoom(t *testing.T) {
	hub := newHub(t)

	hp := &fakePeer{}
	h := hub.Connect("h", hp)
	hub.HandleEvent(h, &signaling.Envelope{Event: signaling.EventJoinRoom, RoomID: "r1"})
	hub.HandleEvent(h, &signaling.Envelope{Event: signaling.EventJoinRoom, RoomID: "r2"})

	r1 := joinAll(t, hub, "r1", "x")[0]
	r2 := joinAll(t, hub, "r2", "y")[0]

	hub.Disconnect(h)

	for _, m := range []member{r1, r2} {
		got := m.peer.last()
		if got == nil || got.Event != signaling.EventPeerLeft {
			t.Fatalf("remaining member got %+v, want peer-left", got)
		}
		if got.RoomID == "" {
			t.Error("peer-left missing roomId")
		}
	}

	if got := len(hub.Rooms().RoomsOf(h)); got != 0 {
		t.Errorf("RoomsOf after disconnect = %d, want 0", got)
	}
	if got := len(hub.Rooms().MembersOf("r1")); got != 1 {
		t.Errorf("r1 members = %d, want 1 (the remaining peer)", got)
	}
}

func TestHub_DisconnectIdempotent(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b")

	hub.Disconnect(ms[0].conn)
	hub.Disconnect(ms[0].conn)

	// Exactly one peer-left despite the double disconnect.
	count := 0
	for _, ev := range ms[1].peer.events() {
		if ev == signaling.EventPeerLeft {
			count++
		}
	}
	if count != 1 {
		t.Errorf("peer-left delivered %d times, want 1", count)
	}
}

func TestHub_ChatRelayVerbatim(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b", "c")

	in := &signaling.Envelope{
		Event:   signaling.EventSendMessage,
		RoomID:  "r1",
		Message: "bp readings attached",
		Sender:  "doctor-7",
		Time:    "2026-03-02T10:15:00Z",
	}
	hub.HandleEvent(ms[0].conn, in)

	for _, m := range ms[1:] {
		got := m.peer.last()
		if got == nil || got.Event != signaling.EventReceiveMessage {
			t.Fatalf("recipient got %+v, want receive-message", got)
		}
		if got.Message != in.Message || got.Sender != in.Sender || got.Time != in.Time || got.RoomID != in.RoomID {
			t.Errorf("chat fields mutated: got %+v", got)
		}
	}
}

func TestHub_MalformedFrames(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b")
	a, b := ms[0], ms[1]

	tests := []struct {
		name string
		env  *signaling.Envelope
	}{
		{"unknown event", &signaling.Envelope{Event: "shutdown-server"}},
		{"join without room", &signaling.Envelope{Event: signaling.EventJoinRoom}},
		{"offer without room", &signaling.Envelope{Event: signaling.EventCallUser, Offer: json.RawMessage(`{}`)}},
		{"offer without payload", &signaling.Envelope{Event: signaling.EventCallUser, RoomID: "r1"}},
		{"chat without message", &signaling.Envelope{Event: signaling.EventSendMessage, RoomID: "r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(b.peer.events())
			hub.HandleEvent(a.conn, tt.env)

			if got := a.peer.last(); got == nil || got.Event != signaling.EventError {
				t.Errorf("sender got %+v, want error reply", got)
			}
			// Nothing leaks to the other member.
			if got := len(b.peer.events()); got != before {
				t.Errorf("other member received %d new events, want 0", got-before)
			}
		})
	}
}

func TestHub_SlowPeerIsClosedNotBlocking(t *testing.T) {
	hub := newHub(t)
	ms := joinAll(t, hub, "r1", "a", "b", "c")
	slow := ms[1]
	slow.peer.full = true

	hub.HandleEvent(ms[0].conn, &signaling.Envelope{
		Event:   signaling.EventSendMessage,
		RoomID:  "r1",
		Message: "hi",
	})

	if !slow.peer.isClosed() {
		t.Error("slow peer was not closed")
	}
	// Delivery to the healthy peer is unaffected.
	if got := ms[2].peer.last(); got == nil || got.Event != signaling.EventReceiveMessage {
		t.Errorf("healthy peer got %+v, want receive-message", got)
	}
}

type recordingSink struct {
	rooms, senders, texts, times []string
}

func (s *recordingSink) SaveMessage(roomID, sender, text, at string) error {
	s.rooms = append(s.rooms, roomID)
	s.senders = append(s.senders, sender)
	s.texts = append(s.texts, text)
	s.times = append(s.times, at)
	return nil
}

func TestHub_ChatSinkReceivesCopy(t *testing.T) {
	sink := &recordingSink{}
	hub := signaling.NewHub(common.NewTestEntry(t), sink)
	ms := joinAll(t, hub, "r1", "a", "b")

	hub.HandleEvent(ms[0].conn, &signaling.Envelope{
		Event:   signaling.EventSendMessage,
		RoomID:  "r1",
		Message: "hello",
		Sender:  "a",
		Time:    "t0",
	})

	if len(sink.texts) != 1 || sink.texts[0] != "hello" || sink.rooms[0] != "r1" {
		t.Errorf("sink recorded %+v, want the relayed message", sink)
	}
}
