// Package rendezvous wires the registry, classifiers, discovery and relay
// into the engine behind every transport. Transports translate their wire
// format into the request shapes of this package and hand each live
// connection over as a registry.Transport.
package rendezvous

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/discovery"
	"github.com/mosaicnetworks/rendezvous/src/keys"
	"github.com/mosaicnetworks/rendezvous/src/metrics"
	"github.com/mosaicnetworks/rendezvous/src/registry"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/sirupsen/logrus"
)

// ErrUnknownPeer is returned by operations that require the peer to be
// registered.
var ErrUnknownPeer = errors.New("unknown peer")

// Default engine parameters. The staleness timeout is deliberately several
// times the heartbeat deadline handed to clients, so a peer survives a few
// missed heartbeats.
const (
	DefaultMaxBootstrapPeers = 10
	DefaultStaleTimeout      = 2 * time.Minute
	DefaultEvictInterval     = 30 * time.Second
	DefaultClosestPeers      = 8
)

// EngineConfig carries the engine's tunables. Zero values select defaults.
type EngineConfig struct {
	// MaxBootstrapPeers caps the candidate list returned at registration.
	MaxBootstrapPeers int

	// StaleTimeout is the liveness threshold: peers whose lastSeen is older
	// are evicted.
	StaleTimeout time.Duration

	// EvictInterval is the period of the liveness monitor's scan.
	EvictInterval time.Duration

	// Clock drives all timestamps and the eviction timer. Tests inject a
	// mock; nil selects the wall clock.
	Clock clock.Clock
}

func (c *EngineConfig) withDefaults() {
	if c.MaxBootstrapPeers <= 0 {
		c.MaxBootstrapPeers = DefaultMaxBootstrapPeers
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = DefaultStaleTimeout
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = DefaultEvictInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Engine is the peer discovery and signaling relay engine.
type Engine struct {
	registry  *registry.Registry
	selector  *discovery.Selector
	proximity *discovery.ProximityIndex
	relay     *relay.Relay
	monitor   *registry.Monitor

	clock        clock.Clock
	staleTimeout time.Duration
	logger       *logrus.Entry
}

// NewEngine instantiates the engine and its liveness monitor. The monitor
// does not start ticking until Run is called.
func NewEngine(cfg EngineConfig, logger *logrus.Entry) *Engine {
	cfg.withDefaults()

	reg := registry.New(cfg.Clock, logger)

	return &Engine{
		registry:  reg,
		selector:  discovery.NewSelector(reg, cfg.MaxBootstrapPeers),
		proximity: discovery.NewProximityIndex(reg),
		relay:     relay.New(reg, logger),
		monitor: registry.NewMonitor(
			reg,
			cfg.EvictInterval,
			cfg.StaleTimeout,
			cfg.Clock,
			logger,
		),
		clock:        cfg.Clock,
		staleTimeout: cfg.StaleTimeout,
		logger:       logger,
	}
}

// Run starts the liveness monitor. It returns immediately.
func (e *Engine) Run() {
	go e.monitor.Run()
}

// Shutdown stops the liveness monitor.
func (e *Engine) Shutdown() {
	e.monitor.Stop()
}

// Registry exposes the underlying store to read-only consumers such as the
// stats service.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Monitor exposes the liveness monitor, mainly so tests can force a tick.
func (e *Engine) Monitor() *registry.Monitor {
	return e.monitor
}

// Register classifies and stores a peer, then returns its bootstrap peer
// set. A registration with an existing peerId replaces the previous record
// wholesale.
func (e *Engine) Register(req *RegisterRequest, t registry.Transport) (*RegisterResponse, error) {
	identity := req.IdentityKey
	if identity == "" && req.PubKey != "" {
		derived, err := keys.FromPubKey(req.PubKey)
		if err != nil {
			e.logger.WithField("peer", req.PeerID).WithError(err).
				Debug("Ignoring malformed public key")
		} else {
			identity = derived
		}
	}

	region := classify.Region(req.NetAddr)
	classification := classify.Trust(req.Metadata)

	// WAMP peers are addressed by procedure, not socket address, so the
	// transport may not supply one.
	addr := req.NetAddr
	if addr == "" {
		addr = "local"
	}

	rec := &registry.PeerRecord{
		PeerID:         req.PeerID,
		IdentityKey:    identity,
		NetAddr:        addr,
		Port:           req.Port,
		Classification: classification,
		Region:         region,
		Transport:      t,
	}

	if _, err := e.registry.Register(rec); err != nil {
		return nil, err
	}

	metrics.RegistrationsTotal.Inc()

	e.logger.WithFields(logrus.Fields{
		"peer":    req.PeerID,
		"region":  region,
		"variant": classification.AppVariant,
	}).Debug("Registered peer")

	return &RegisterResponse{
		Success:               true,
		AssignedRegion:        region,
		Classification:        classification,
		Peers:                 e.selector.Pick(req.PeerID, region),
		NetworkStats:          e.registry.Aggregate(),
		NextHeartbeatDeadline: e.nextDeadline(),
	}, nil
}

// Heartbeat refreshes a peer's liveness. It never creates a record.
func (e *Engine) Heartbeat(peerID string) (*HeartbeatResponse, error) {
	if !e.registry.Heartbeat(peerID) {
		return nil, ErrUnknownPeer
	}

	return &HeartbeatResponse{
		Success:               true,
		NextHeartbeatDeadline: e.nextDeadline(),
	}, nil
}

// Unregister removes a peer. It is idempotent and reports whether a record
// was actually removed.
func (e *Engine) Unregister(peerID string) bool {
	removed := e.registry.Remove(peerID)
	if removed {
		e.logger.WithField("peer", peerID).Debug("Unregistered peer")
	}
	return removed
}

// ConnClosed is the transport layer's connection-close notification. It
// follows the same removal path as an explicit unregister.
func (e *Engine) ConnClosed(peerID string) {
	if e.registry.Remove(peerID) {
		e.logger.WithField("peer", peerID).Debug("Removed peer on closed connection")
	}
}

// Lookup returns the public view of a registered peer.
func (e *Engine) Lookup(peerID string) (*PeerInfo, bool) {
	rec, ok := e.registry.Get(peerID)
	if !ok {
		return nil, false
	}

	return &PeerInfo{
		PeerID:         rec.PeerID,
		NetAddr:        rec.NetAddr,
		LastSeen:       rec.LastSeen,
		Classification: rec.Classification,
	}, true
}

// Discover re-runs bootstrap selection for an already-registered peer. The
// request counts as inbound activity.
func (e *Engine) Discover(peerID string) ([]discovery.Candidate, error) {
	rec, ok := e.registry.Get(peerID)
	if !ok {
		return nil, ErrUnknownPeer
	}

	e.registry.Touch(peerID)

	return e.selector.Pick(peerID, rec.Region), nil
}

// Closest returns up to k peers ordered by XOR distance to targetKey. k <= 0
// selects the default.
func (e *Engine) Closest(targetKey string, k int) []discovery.Neighbor {
	if k <= 0 {
		k = DefaultClosestPeers
	}
	return e.proximity.FindClosest(targetKey, k)
}

// Signal relays a signaling payload. Broadcast actions fan out to every
// reachable peer except the sender and never fail as a whole; directed
// actions return relay errors for the sender to act on.
func (e *Engine) Signal(action relay.Action, from, to string, payload interface{}) error {
	if action.IsBroadcast() {
		delivered := e.relay.Broadcast(action, from, payload)
		e.logger.WithFields(logrus.Fields{
			"from":      from,
			"delivered": delivered,
		}).Debug("Broadcast")
		return nil
	}

	return e.relay.Send(action, from, to, payload)
}

// Stats returns the aggregate network statistics, recomputed from the live
// set.
func (e *Engine) Stats() registry.Stats {
	return e.registry.Aggregate()
}

// Recent returns the public view of peers registered within the window.
func (e *Engine) Recent(window time.Duration) []PeerInfo {
	recs := e.registry.RecentlyRegistered(window)

	res := make([]PeerInfo, 0, len(recs))
	for _, rec := range recs {
		res = append(res, PeerInfo{
			PeerID:         rec.PeerID,
			NetAddr:        rec.NetAddr,
			LastSeen:       rec.LastSeen,
			Classification: rec.Classification,
		})
	}

	return res
}

// nextDeadline is half the staleness threshold, so a client that misses one
// deadline is still inside the liveness window.
func (e *Engine) nextDeadline() time.Time {
	return e.clock.Now().Add(e.staleTimeout / 2)
}
