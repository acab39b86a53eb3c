package wsock

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/sirupsen/logrus"
)

// message is one inbound frame of the JSON action protocol. Fields beyond
// Action are populated depending on the action.
type message struct {
	Action      string            `json:"action"`
	PeerID      string            `json:"peerId,omitempty"`
	IdentityKey string            `json:"identityKey,omitempty"`
	PubKey      string            `json:"pubKey,omitempty"`
	Port        int               `json:"declaredPort,omitempty"`
	Metadata    classify.Metadata `json:"metadata,omitempty"`
	To          string            `json:"to,omitempty"`
	TargetKey   string            `json:"targetKey,omitempty"`
	K           int               `json:"k,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

// reply is the response frame for a request/response action. Relayed
// envelopes are written to the socket as-is and do not use this shape.
type reply struct {
	Action  string      `json:"action"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// conn wraps one WebSocket connection. It implements registry.Transport, so
// the registry's record for the peer points straight back at the socket.
type conn struct {
	ws         *websocket.Conn
	engine     *rendezvous.Engine
	remoteAddr string
	logger     *logrus.Entry

	writeMu sync.Mutex

	mu     sync.Mutex
	peerID string
	closed bool
}

func newConn(ws *websocket.Conn, engine *rendezvous.Engine, remoteAddr string, logger *logrus.Entry) *conn {
	return &conn{
		ws:         ws,
		engine:     engine,
		remoteAddr: remoteAddr,
		logger:     logger.WithField("remote", remoteAddr),
	}
}

// Deliver implements registry.Transport. The data is an encoded relay
// envelope and is written to the socket verbatim.
func (c *conn) Deliver(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// IsOpen implements registry.Transport.
func (c *conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed
}

// readLoop processes frames until the socket closes, then removes the peer.
// A closed socket is the transport layer's connection-close notification.
func (c *conn) readLoop() {
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.writeReply(reply{Action: "error", Error: "malformed message"})
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	c.closed = true
	peerID := c.peerID
	c.mu.Unlock()

	c.ws.Close()

	if peerID != "" {
		c.engine.ConnClosed(peerID)
	}
}

func (c *conn) dispatch(msg *message) {
	switch msg.Action {
	case "register":
		c.handleRegister(msg)
	case "heartbeat":
		c.handleHeartbeat(msg)
	case "unregister":
		c.handleUnregister(msg)
	case "discover":
		c.handleDiscover(msg)
	case "closest":
		c.handleClosest(msg)
	case "lookup":
		c.handleLookup(msg)
	case string(relay.Offer),
		string(relay.Answer),
		string(relay.ICECandidate),
		string(relay.Gossip),
		string(relay.GossipTo):
		c.handleSignal(msg)
	default:
		c.writeReply(reply{
			Action: msg.Action,
			Error:  "unknown action",
		})
	}
}

func (c *conn) handleRegister(msg *message) {
	req := &rendezvous.RegisterRequest{
		PeerID:      msg.PeerID,
		IdentityKey: msg.IdentityKey,
		PubKey:      msg.PubKey,
		NetAddr:     c.remoteAddr,
		Port:        msg.Port,
		Metadata:    msg.Metadata,
	}

	resp, err := c.engine.Register(req, c)
	if err != nil {
		c.writeReply(reply{Action: msg.Action, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.peerID = msg.PeerID
	c.mu.Unlock()

	c.writeReply(reply{Action: msg.Action, Success: true, Data: resp})
}

func (c *conn) handleHeartbeat(msg *message) {
	resp, err := c.engine.Heartbeat(c.boundPeerID(msg))
	if err != nil {
		c.writeReply(reply{Action: msg.Action, Error: err.Error()})
		return
	}

	c.writeReply(reply{Action: msg.Action, Success: true, Data: resp})
}

func (c *conn) handleUnregister(msg *message) {
	removed := c.engine.Unregister(c.boundPeerID(msg))

	c.mu.Lock()
	c.peerID = ""
	c.mu.Unlock()

	c.writeReply(reply{Action: msg.Action, Success: removed})
}

func (c *conn) handleDiscover(msg *message) {
	peers, err := c.engine.Discover(c.boundPeerID(msg))
	if err != nil {
		c.writeReply(reply{Action: msg.Action, Error: err.Error()})
		return
	}

	c.writeReply(reply{Action: msg.Action, Success: true, Data: peers})
}

func (c *conn) handleClosest(msg *message) {
	if msg.TargetKey == "" {
		c.writeReply(reply{Action: msg.Action, Error: "missing targetKey"})
		return
	}

	c.writeReply(reply{
		Action:  msg.Action,
		Success: true,
		Data:    c.engine.Closest(msg.TargetKey, msg.K),
	})
}

func (c *conn) handleLookup(msg *message) {
	info, found := c.engine.Lookup(msg.To)

	c.writeReply(reply{Action: msg.Action, Success: found, Data: info})
}

func (c *conn) handleSignal(msg *message) {
	from := c.registeredPeerID()
	if from == "" {
		c.writeReply(reply{Action: msg.Action, Error: "not registered"})
		return
	}

	var payload interface{}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.writeReply(reply{Action: msg.Action, Error: "malformed payload"})
			return
		}
	}

	if err := c.engine.Signal(relay.Action(msg.Action), from, msg.To, payload); err != nil {
		c.writeReply(reply{Action: msg.Action, Error: err.Error()})
		return
	}

	c.writeReply(reply{Action: msg.Action, Success: true})
}

// boundPeerID prefers the id bound to this connection at registration, so a
// peer cannot heartbeat or unregister on behalf of another. Unbound
// connections may still address a peer explicitly (the id is unverified
// either way).
func (c *conn) boundPeerID(msg *message) string {
	if id := c.registeredPeerID(); id != "" {
		return id
	}
	return msg.PeerID
}

func (c *conn) registeredPeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peerID
}

func (c *conn) writeReply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.WithError(err).Error("Marshalling reply")
		return
	}

	if err := c.Deliver(data); err != nil {
		c.logger.WithError(err).Debug("Writing reply")
	}
}
