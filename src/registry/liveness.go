package registry

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/rendezvous/src/metrics"
	"github.com/sirupsen/logrus"
)

// StalePeers is the eviction policy: given a snapshot of records and the
// current time, it returns the ids of every record whose lastSeen exceeds the
// staleness threshold. It performs no mutation, so it can be tested without
// timers.
func StalePeers(records []*PeerRecord, now time.Time, threshold time.Duration) []string {
	var stale []string
	for _, rec := range records {
		if now.Sub(rec.LastSeen) >= threshold {
			stale = append(stale, rec.PeerID)
		}
	}
	return stale
}

// Monitor periodically expires peers whose last-seen timestamp exceeds the
// staleness threshold, and recomputes aggregate statistics from the live set.
// The threshold should be a multiple of the heartbeat interval handed to
// clients, so a peer can miss a few heartbeats before being evicted.
type Monitor struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock
	logger    *logrus.Entry
	stopCh    chan struct{}
}

// NewMonitor instantiates a Monitor. It does not start ticking until Run is
// called.
func NewMonitor(
	registry *Registry,
	interval time.Duration,
	threshold time.Duration,
	clk clock.Clock,
	logger *logrus.Entry,
) *Monitor {
	return &Monitor{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		clock:     clk,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Run ticks until Stop is called. It is a blocking call, usually run in its
// own goroutine.
func (m *Monitor) Run() {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-m.stopCh:
			return
		}
	}
}

// Stop terminates the Run loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

// Tick performs one eviction pass and returns the number of evicted peers.
// Each candidate is re-checked under the registry lock, so a heartbeat or
// unregister that lands between the scan and the eviction wins. A failure on
// one record does not abort the rest of the pass.
func (m *Monitor) Tick() int {
	now := m.clock.Now()

	stale := StalePeers(m.registry.Snapshot(nil), now, m.threshold)

	evicted := 0
	for _, peerID := range stale {
		if m.registry.EvictIfStale(peerID, now, m.threshold) {
			evicted++
			metrics.EvictionsTotal.Inc()
			m.logger.WithField("peer", peerID).Debug("Evicted stale peer")
		}
	}

	m.publishStats()

	return evicted
}

// publishStats recomputes the aggregate counters from the live set and
// mirrors them into the prometheus gauges.
func (m *Monitor) publishStats() {
	stats := m.registry.Aggregate()

	metrics.CurrentPeers.Set(float64(stats.CurrentPeers))
	metrics.PeakPeers.Set(float64(stats.PeakPeers))
	metrics.PeersByVariant.WithLabelValues("official").Set(float64(stats.Official))
	metrics.PeersByVariant.WithLabelValues("fork").Set(float64(stats.Forks))
	metrics.PeersByVariant.WithLabelValues("custom").Set(float64(stats.Custom))
}
