// Package metrics exposes the server's prometheus collectors. Gauges that
// mirror registry state are Set from values recomputed by the liveness
// monitor rather than incremented in place, so they cannot drift from the
// add/remove paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistrationsTotal counts registration requests accepted, including
	// re-registrations. It is never decremented.
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rendezvous",
		Name:      "registrations_total",
		Help:      "Total number of accepted peer registrations.",
	})

	// EvictionsTotal counts peers removed by the liveness monitor.
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rendezvous",
		Name:      "evictions_total",
		Help:      "Total number of peers evicted for staleness.",
	})

	// RelaysTotal counts successfully delivered signaling envelopes by action.
	RelaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rendezvous",
		Name:      "relays_total",
		Help:      "Total number of delivered signaling envelopes.",
	}, []string{"action"})

	// RelayFailuresTotal counts failed deliveries (target missing or
	// unreachable).
	RelayFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rendezvous",
		Name:      "relay_failures_total",
		Help:      "Total number of failed signaling deliveries.",
	})

	// CurrentPeers is the number of live registrations.
	CurrentPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rendezvous",
		Name:      "peers",
		Help:      "Number of currently registered peers.",
	})

	// PeakPeers is the high-water mark of live registrations.
	PeakPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rendezvous",
		Name:      "peak_peers",
		Help:      "High-water mark of registered peers.",
	})

	// PeersByVariant is the live peer count partitioned by app variant.
	PeersByVariant = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rendezvous",
		Name:      "peers_by_variant",
		Help:      "Currently registered peers by app variant.",
	}, []string{"variant"})
)
