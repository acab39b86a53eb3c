// Package registry implements the ground-truth store of registered peers.
//
// All mutations are serialized behind a single mutex, together with the
// region secondary index, so a registration and an eviction racing on the
// same peerId can never leave a half-updated index. Nothing here touches the
// network or disk; the registry is rebuilt from scratch on restart and peers
// are expected to re-register.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/sirupsen/logrus"
)

// ErrValidation is returned when a registration is missing required fields.
var ErrValidation = errors.New("invalid registration")

// Stats is an aggregate view over the live peer set. All counts except
// TotalRegistrations and PeakPeers are recomputed from the live records on
// every call, never trusted to stay correct incrementally.
type Stats struct {
	CurrentPeers       int                        `json:"currentPeers"`
	TotalRegistrations uint64                     `json:"totalRegistrations"`
	PeakPeers          int                        `json:"peakPeers"`
	Official           int                        `json:"official"`
	Forks              int                        `json:"forks"`
	Custom             int                        `json:"custom"`
	Regions            map[classify.RegionTag]int `json:"regions"`
}

// Registry holds all known peers and their liveness timestamps.
type Registry struct {
	sync.RWMutex

	records     map[string]*PeerRecord
	regionIndex map[classify.RegionTag]map[string]bool

	// totalRegistrations is monotonic; it is never decremented.
	totalRegistrations uint64
	peak               int

	clock  clock.Clock
	logger *logrus.Entry
}

// New instantiates an empty Registry. The clock is injected so that liveness
// behaviour can be driven deterministically in tests.
func New(clk clock.Clock, logger *logrus.Entry) *Registry {
	return &Registry{
		records:     make(map[string]*PeerRecord),
		regionIndex: make(map[classify.RegionTag]map[string]bool),
		clock:       clk,
		logger:      logger,
	}
}

// Now returns the registry's notion of current time. Components that stamp
// outgoing messages use this instead of time.Now so that tests with a mock
// clock stay consistent.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Register inserts a record, replacing any existing record with the same
// peerId. RegisteredAt, LastSeen and HeartbeatCount are reset even on
// re-registration; there is no merge. Returns ErrValidation if the record is
// missing its peerId or network address.
func (r *Registry) Register(rec *PeerRecord) (*PeerRecord, error) {
	if rec.PeerID == "" {
		return nil, fmt.Errorf("%w: missing peerId", ErrValidation)
	}
	if rec.NetAddr == "" {
		return nil, fmt.Errorf("%w: missing network address", ErrValidation)
	}

	r.Lock()
	defer r.Unlock()

	now := r.clock.Now()

	stored := rec.clone()
	stored.RegisteredAt = now
	stored.LastSeen = now
	stored.HeartbeatCount = 0

	prev, replaced := r.records[rec.PeerID]
	r.records[stored.PeerID] = stored
	if replaced {
		r.dropFromRegionIndex(prev)
	}
	r.addToRegionIndex(stored)

	r.totalRegistrations++
	if len(r.records) > r.peak {
		r.peak = len(r.records)
	}

	return stored.clone(), nil
}

// Heartbeat refreshes a peer's lastSeen timestamp and increments its
// heartbeat counter. It returns false if the peer is not registered; a
// heartbeat never creates a record.
func (r *Registry) Heartbeat(peerID string) bool {
	r.Lock()
	defer r.Unlock()

	rec, ok := r.records[peerID]
	if !ok {
		return false
	}

	rec.LastSeen = r.clock.Now()
	rec.HeartbeatCount++

	return true
}

// Touch refreshes lastSeen without counting a heartbeat. It is called on any
// inbound activity from a peer, such as sending a signaling message.
func (r *Registry) Touch(peerID string) bool {
	r.Lock()
	defer r.Unlock()

	rec, ok := r.records[peerID]
	if !ok {
		return false
	}

	rec.LastSeen = r.clock.Now()

	return true
}

// SetTransport attaches a fresh transport handle to an existing record, for
// peers that reconnect without re-registering.
func (r *Registry) SetTransport(peerID string, t Transport) bool {
	r.Lock()
	defer r.Unlock()

	rec, ok := r.records[peerID]
	if !ok {
		return false
	}

	rec.Transport = t
	rec.LastSeen = r.clock.Now()

	return true
}

// Remove deletes a record and its region-index entry. It is idempotent:
// removing an absent peer returns false and is not an error.
func (r *Registry) Remove(peerID string) bool {
	r.Lock()
	defer r.Unlock()

	return r.removeLocked(peerID)
}

// EvictIfStale removes the peer only if its lastSeen is still older than the
// threshold at the time of the call. Re-checking under the lock means a
// racing heartbeat or unregister always wins over the eviction pass.
func (r *Registry) EvictIfStale(peerID string, now time.Time, threshold time.Duration) bool {
	r.Lock()
	defer r.Unlock()

	rec, ok := r.records[peerID]
	if !ok {
		return false
	}

	if now.Sub(rec.LastSeen) < threshold {
		return false
	}

	return r.removeLocked(peerID)
}

// Get returns a copy of the record for peerID.
func (r *Registry) Get(peerID string) (*PeerRecord, bool) {
	r.RLock()
	defer r.RUnlock()

	rec, ok := r.records[peerID]
	if !ok {
		return nil, false
	}

	return rec.clone(), true
}

// Snapshot returns copies of all current records matching the predicate. A
// nil predicate matches everything. Iteration order is unspecified.
func (r *Registry) Snapshot(pred func(*PeerRecord) bool) []*PeerRecord {
	r.RLock()
	defer r.RUnlock()

	res := make([]*PeerRecord, 0, len(r.records))
	for _, rec := range r.records {
		if pred == nil || pred(rec) {
			res = append(res, rec.clone())
		}
	}

	return res
}

// Count returns the number of live registrations.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.records)
}

// RegionCounts returns the number of live peers per region.
func (r *Registry) RegionCounts() map[classify.RegionTag]int {
	r.RLock()
	defer r.RUnlock()

	res := make(map[classify.RegionTag]int, len(r.regionIndex))
	for region, ids := range r.regionIndex {
		if len(ids) > 0 {
			res[region] = len(ids)
		}
	}

	return res
}

// RecentlyRegistered returns copies of the records registered within the
// given window, newest first not guaranteed (order unspecified).
func (r *Registry) RecentlyRegistered(window time.Duration) []*PeerRecord {
	cutoff := r.clock.Now().Add(-window)

	return r.Snapshot(func(rec *PeerRecord) bool {
		return rec.RegisteredAt.After(cutoff)
	})
}

// Aggregate recomputes the aggregate counters from the live set and updates
// the peak-peers high-water mark.
func (r *Registry) Aggregate() Stats {
	r.Lock()
	defer r.Unlock()

	if len(r.records) > r.peak {
		r.peak = len(r.records)
	}

	stats := Stats{
		CurrentPeers:       len(r.records),
		TotalRegistrations: r.totalRegistrations,
		PeakPeers:          r.peak,
		Regions:            make(map[classify.RegionTag]int),
	}

	for _, rec := range r.records {
		switch rec.Classification.AppVariant {
		case classify.VariantOfficial:
			stats.Official++
		case classify.VariantFork:
			stats.Forks++
		default:
			stats.Custom++
		}
		stats.Regions[rec.Region]++
	}

	return stats
}

// removeLocked deletes a record and its region-index entry. Callers must hold
// the write lock.
func (r *Registry) removeLocked(peerID string) bool {
	rec, ok := r.records[peerID]
	if !ok {
		return false
	}

	delete(r.records, peerID)
	r.dropFromRegionIndex(rec)

	return true
}

func (r *Registry) addToRegionIndex(rec *PeerRecord) {
	ids, ok := r.regionIndex[rec.Region]
	if !ok {
		ids = make(map[string]bool)
		r.regionIndex[rec.Region] = ids
	}
	ids[rec.PeerID] = true
}

func (r *Registry) dropFromRegionIndex(rec *PeerRecord) {
	ids, ok := r.regionIndex[rec.Region]
	if !ok || !ids[rec.PeerID] {
		// The index is out of step with the records map. This is a
		// programming error; rebuild the index rather than leaving it
		// inconsistent.
		r.logger.WithFields(logrus.Fields{
			"peer":   rec.PeerID,
			"region": rec.Region,
		}).Error("Region index missing entry, reindexing")

		r.reindexLocked()
		return
	}

	delete(ids, rec.PeerID)
	if len(ids) == 0 {
		delete(r.regionIndex, rec.Region)
	}
}

// reindexLocked rebuilds the region index from the records map. Callers must
// hold the write lock.
func (r *Registry) reindexLocked() {
	r.regionIndex = make(map[classify.RegionTag]map[string]bool)
	for _, rec := range r.records {
		r.addToRegionIndex(rec)
	}
}
