package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs are the largest
	// frames we relay and fit comfortably in 64 KB.
	maxMessageSize = 64 * 1024
)

// Client wraps a single websocket connection and implements Peer. All
// reads happen on the ReadPump goroutine and all writes on the
// WritePump goroutine, so the connection never sees concurrent use.
type Client struct {
	hub  *Hub
	ws   *websocket.Conn
	conn *Conn
	log  *logrus.Entry

	send chan *Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient registers a websocket connection with the hub and returns
// the client driving its pumps. user is the identity the auth
// collaborator attached during the handshake; it may be empty.
func NewClient(hub *Hub, ws *websocket.Conn, user string, queueSize int, logger *logrus.Entry) *Client {
	if queueSize <= 0 {
		queueSize = 256
	}
	c := &Client{
		hub:  hub,
		ws:   ws,
		send: make(chan *Envelope, queueSize),
		done: make(chan struct{}),
	}
	c.conn = hub.Connect(user, c)
	c.log = logger.WithFields(logrus.Fields{"conn": c.conn.ID, "remote": ws.RemoteAddr().String()})
	return c
}

// Conn returns the registry record for this client.
func (c *Client) Conn() *Conn { return c.conn }

// Enqueue implements Peer. It never blocks: a full queue or a closed
// client reports false and the hub decides what to do about it.
func (c *Client) Enqueue(env *Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close implements Peer. Closing the underlying websocket makes both
// pumps exit; ReadPump then runs disconnect cleanup through the hub.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// ReadPump pumps frames from the websocket into the hub. It is the sole
// reader on the connection and owns disconnect cleanup: when it
// returns, the connection leaves every room and peers are notified.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c.conn)
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Debug("read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.log.WithError(err).Warn("dropping undecodable frame")
			c.Enqueue(errorEnvelope("malformed frame"))
			continue
		}

		c.hub.HandleEvent(c.conn, &env)
	}
}

// WritePump pumps envelopes from the send queue to the websocket and
// keeps the connection alive with pings. It is the sole writer on the
// connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.log.WithError(err).Debug("write error")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
