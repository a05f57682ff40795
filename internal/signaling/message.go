package signaling

import (
	"encoding/json"
	"errors"
)

// Client-to-server event names.
const (
	EventJoinRoom     = "join-room"
	EventSendMessage  = "send-message"
	EventCallUser     = "call-user"
	EventCallAccepted = "call-accepted"
	EventIceCandidate = "ice-candidate"
)

// Server-to-client event names.
const (
	EventReceiveMessage       = "receive-message"
	EventIncomingCall         = "incoming-call"
	EventCallAnswered         = "call-answered"
	EventIncomingIceCandidate = "incoming-ice-candidate"
	EventPeerLeft             = "peer-left"
	EventError                = "error"
)

// Envelope is the structure of every C2S and S2C websocket frame.
// The offer/answer/candidate blobs are opaque to the server; they are
// carried as raw JSON and relayed without being parsed.
type Envelope struct {
	Event     string          `json:"event"`
	RoomID    string          `json:"roomId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Chat fields, relayed verbatim on send-message/receive-message.
	Message string `json:"message,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Time    string `json:"time,omitempty"`

	// Reason accompanies error events sent back to an offending client.
	Reason string `json:"reason,omitempty"`
}

// SignalKind discriminates the three handshake message kinds.
type SignalKind int

const (
	KindOffer SignalKind = iota
	KindAnswer
	KindCandidate
)

func (k SignalKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	}
	return "unknown"
}

// Signal is a validated handshake message: one of the three kinds, the
// target room, and the untouched payload blob.
type Signal struct {
	Kind    SignalKind
	RoomID  string
	Payload json.RawMessage
}

// Validation errors for inbound frames. A malformed frame is dropped
// with a best-effort error reply to its sender; it never crashes the
// server and is never surfaced to other connections.
var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingRoomID  = errors.New("missing roomId")
	ErrMissingPayload = errors.New("missing payload")
)

// ParseSignal maps a call-user / call-accepted / ice-candidate envelope
// onto the closed Signal union, validating shape at the decode boundary
// rather than at forwarding time.
func ParseSignal(env *Envelope) (Signal, error) {
	var sig Signal
	switch env.Event {
	case EventCallUser:
		sig.Kind, sig.Payload = KindOffer, env.Offer
	case EventCallAccepted:
		sig.Kind, sig.Payload = KindAnswer, env.Answer
	case EventIceCandidate:
		sig.Kind, sig.Payload = KindCandidate, env.Candidate
	default:
		return Signal{}, ErrUnknownEvent
	}
	if env.RoomID == "" {
		return Signal{}, ErrMissingRoomID
	}
	if len(sig.Payload) == 0 {
		return Signal{}, ErrMissingPayload
	}
	sig.RoomID = env.RoomID
	return sig, nil
}

// outbound returns the envelope a relayed signal is delivered in, under
// the matching S2C event name.
func (s Signal) outbound() *Envelope {
	switch s.Kind {
	case KindOffer:
		return &Envelope{Event: EventIncomingCall, Offer: s.Payload}
	case KindAnswer:
		return &Envelope{Event: EventCallAnswered, Answer: s.Payload}
	default:
		return &Envelope{Event: EventIncomingIceCandidate, Candidate: s.Payload}
	}
}

// errorEnvelope builds the best-effort diagnostic sent only to the
// directly offending connection.
func errorEnvelope(reason string) *Envelope {
	return &Envelope{Event: EventError, Reason: reason}
}
