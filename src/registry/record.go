package registry

import (
	"time"

	"github.com/mosaicnetworks/rendezvous/src/classify"
)

// Transport is the opaque handle back to the transport layer's live
// connection for a peer. The registry stores it and the relay invokes it; the
// core never inspects it beyond these two methods.
type Transport interface {
	// Deliver writes an encoded envelope to the peer's connection.
	// Delivery is fire-and-forget; an error means the envelope was dropped.
	Deliver(data []byte) error

	// IsOpen reports whether the connection can currently accept writes.
	IsOpen() bool
}

// PeerRecord is the registry's view of one registered peer. A peerId maps to
// at most one record at any time; a new registration with the same id
// replaces the previous record wholesale.
type PeerRecord struct {
	PeerID      string `json:"peerId"`
	IdentityKey string `json:"identityKey,omitempty"`
	NetAddr     string `json:"networkAddress"`
	Port        int    `json:"declaredPort,omitempty"`

	Classification classify.Classification `json:"classification"`
	Region         classify.RegionTag      `json:"region"`

	LastSeen       time.Time `json:"lastSeen"`
	RegisteredAt   time.Time `json:"registeredAt"`
	HeartbeatCount uint64    `json:"heartbeatCount"`

	Transport Transport `json:"-"`
}

// Reachable reports whether the record has a transport handle that is
// currently open for delivery.
func (r *PeerRecord) Reachable() bool {
	return r.Transport != nil && r.Transport.IsOpen()
}

// clone returns a shallow copy. The transport handle is shared; everything
// else is value-copied so callers cannot mutate registry state.
func (r *PeerRecord) clone() *PeerRecord {
	c := *r
	return &c
}
