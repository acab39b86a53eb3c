package signal

import "github.com/pion/webrtc/v2"

// Signal defines an interface for peers to exchange SDP offers and answers
// through the rendezvous server in order to establish WebRTC
// PeerConnections.
type Signal interface {
	// ID returns the peer identifier used to address this end of a
	// connection.
	ID() string

	// Listen starts receiving incoming SDP offers and forwards them to the
	// Consumer channel.
	Listen() error

	// Consumer is the channel through which incoming SDP offers are passed
	// to the application. Offers are wrapped in a promise object which
	// offers a response mechanism.
	Consumer() <-chan OfferPromise

	// Offer sends an SDP offer to a target peer and waits for an answer.
	Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}
