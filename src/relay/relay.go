// Package relay implements the signaling relay: stateless routing of
// directed WebRTC signaling payloads between registered peers. It holds no
// state of its own beyond registry lookups, and delivery is fire-and-forget,
// at-most-once, with no retry.
package relay

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/rendezvous/src/metrics"
	"github.com/mosaicnetworks/rendezvous/src/registry"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidAction is returned for actions outside the closed set.
	ErrInvalidAction = errors.New("invalid signaling action")

	// ErrTargetNotFound is returned when the target has no peer record.
	ErrTargetNotFound = errors.New("target peer not registered")

	// ErrUnreachable is returned when the target exists but its transport
	// is not currently open. The sender is responsible for retrying.
	ErrUnreachable = errors.New("target peer unreachable")
)

// Relay routes signaling envelopes between registered peers.
type Relay struct {
	registry *registry.Registry
	logger   *logrus.Entry
}

// New instantiates a Relay over the given registry.
func New(reg *registry.Registry, logger *logrus.Entry) *Relay {
	return &Relay{
		registry: reg,
		logger:   logger,
	}
}

// Send forwards a payload from one peer to another. It fails with
// ErrTargetNotFound if the target is not registered, and with ErrUnreachable
// if the target's transport is not open. A successful return only means the
// envelope was handed to the transport; there is no delivery acknowledgement.
func (r *Relay) Send(action Action, from, to string, payload interface{}) error {
	if !action.IsValid() || action.IsBroadcast() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	target, ok := r.registry.Get(to)
	if !ok {
		metrics.RelayFailuresTotal.Inc()
		return fmt.Errorf("%w: %s", ErrTargetNotFound, to)
	}

	if err := r.deliver(action, from, payload, target); err != nil {
		metrics.RelayFailuresTotal.Inc()
		return err
	}

	// Sending counts as inbound activity for the sender.
	r.registry.Touch(from)

	metrics.RelaysTotal.WithLabelValues(string(action)).Inc()

	return nil
}

// Broadcast forwards a payload to every registered peer except the sender,
// and returns the number of successful deliveries. A failed delivery to one
// peer never aborts delivery to the others.
func (r *Relay) Broadcast(action Action, from string, payload interface{}) int {
	if !action.IsBroadcast() {
		return 0
	}

	pool := r.registry.Snapshot(func(rec *registry.PeerRecord) bool {
		return rec.PeerID != from
	})

	delivered := 0
	for _, rec := range pool {
		if err := r.deliver(action, from, payload, rec); err != nil {
			metrics.RelayFailuresTotal.Inc()
			r.logger.WithFields(logrus.Fields{
				"target": rec.PeerID,
				"action": action,
			}).WithError(err).Debug("Broadcast delivery failed")
			continue
		}
		delivered++
		metrics.RelaysTotal.WithLabelValues(string(action)).Inc()
	}

	r.registry.Touch(from)

	return delivered
}

func (r *Relay) deliver(action Action, from string, payload interface{}, target *registry.PeerRecord) error {
	if !target.Reachable() {
		return fmt.Errorf("%w: %s", ErrUnreachable, target.PeerID)
	}

	env := Envelope{
		ID:        uuid.New().String(),
		Action:    action,
		From:      from,
		Payload:   payload,
		Timestamp: r.registry.Now(),
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := target.Transport.Deliver(data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target.PeerID, err)
	}

	return nil
}
