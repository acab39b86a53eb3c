package rendezvous

import (
	"time"

	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/discovery"
	"github.com/mosaicnetworks/rendezvous/src/registry"
)

// RegisterRequest announces a peer to the network. NetAddr is normally
// derived from the connection by the transport layer; a value supplied by the
// peer is only used when the transport cannot see a remote address.
type RegisterRequest struct {
	PeerID      string            `json:"peerId"`
	IdentityKey string            `json:"identityKey,omitempty"`
	PubKey      string            `json:"pubKey,omitempty"`
	NetAddr     string            `json:"networkAddress,omitempty"`
	Port        int               `json:"declaredPort,omitempty"`
	Metadata    classify.Metadata `json:"metadata"`
}

// RegisterResponse is returned once at registration. It carries everything a
// newly joined peer needs: its assigned region and trust tier, an initial
// bootstrap peer set, current network stats, and its heartbeat deadline.
type RegisterResponse struct {
	Success               bool                    `json:"success"`
	AssignedRegion        classify.RegionTag      `json:"assignedRegion"`
	Classification        classify.Classification `json:"classification"`
	Peers                 []discovery.Candidate   `json:"peers"`
	NetworkStats          registry.Stats          `json:"networkStats"`
	NextHeartbeatDeadline time.Time               `json:"nextHeartbeatDeadline"`
}

// HeartbeatResponse acknowledges a liveness refresh.
type HeartbeatResponse struct {
	Success               bool      `json:"success"`
	NextHeartbeatDeadline time.Time `json:"nextHeartbeatDeadline"`
}

// PeerInfo is the public view of a registered peer returned by lookups. It
// exposes less than the full record.
type PeerInfo struct {
	PeerID         string                  `json:"peerId"`
	NetAddr        string                  `json:"address"`
	LastSeen       time.Time               `json:"lastSeen"`
	Classification classify.Classification `json:"classification"`
}
