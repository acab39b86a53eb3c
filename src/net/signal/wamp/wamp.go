// Package wamp implements the WAMP transport of the rendezvous server, using
// RPC over WebSockets.
//
// The server embeds a WAMP router together with a local session that serves
// the rendezvous meta-procedures (registration, heartbeats, discovery and
// relay). Each connected peer additionally registers a delivery procedure
// named after its own peerId, which the server invokes to forward signaling
// envelopes.
//
// The client implements the Signal interface and can be handed to an
// application that establishes WebRTC PeerConnections. TLS is optional: LAN
// deployments may run the router in plaintext, and clients may either trust a
// specific certificate file or skip verification for testing.
package wamp

// Rendezvous meta-procedure URIs served by the router's local session.
const (
	ProcRegister   = "rendezvous.register"
	ProcHeartbeat  = "rendezvous.heartbeat"
	ProcUnregister = "rendezvous.unregister"
	ProcDiscover   = "rendezvous.discover"
	ProcClosest    = "rendezvous.closest"
	ProcRelay      = "rendezvous.relay"
)

// WAMP error URIs returned by procedures.
const (
	// ErrRendezvous indicates that a rendezvous meta-procedure failed.
	ErrRendezvous = "network.rendezvous.request_failed"

	// ErrProcessingOffer indicates that the peer who received an offer ran
	// into an error while processing it.
	ErrProcessingOffer = "network.rendezvous.processing_offer"
)
