// Package discovery answers the two peer-discovery queries of the rendezvous
// protocol: tiered bootstrap candidate selection for newly joined peers, and
// XOR-distance closest-peer lookups over identity keys.
package discovery

import (
	"sort"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/registry"
)

// Selection caps. Tier 1 is capped below maxPeers so that a well-connected
// region still mixes in semi-trusted peers; tier 3 only opens when the pool
// is nearly empty.
const (
	DefaultMaxPeers = 10
	tier1Cap        = 4
	tier3Floor      = 3
)

// Candidate is a bootstrap peer returned to a requester. It never exposes
// the transport handle.
type Candidate struct {
	PeerID         string                  `json:"peerId"`
	NetAddr        string                  `json:"address"`
	Port           int                     `json:"port,omitempty"`
	Classification classify.Classification `json:"classification"`
	Region         classify.RegionTag      `json:"region"`
	LastSeen       time.Time               `json:"lastSeen"`
}

// Selector produces ranked bootstrap candidate lists from the live registry.
type Selector struct {
	registry *registry.Registry
	maxPeers int
}

// NewSelector instantiates a Selector. maxPeers <= 0 selects the default cap.
func NewSelector(reg *registry.Registry, maxPeers int) *Selector {
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	return &Selector{
		registry: reg,
		maxPeers: maxPeers,
	}
}

// Pick returns an ordered candidate list for the requesting peer, excluding
// the requester itself and without duplicates. Three priority tiers are
// evaluated in order until the cap is reached:
//
//	tier 1: official peers in the requester's region, capped at 4
//	tier 2: non-untrusted peers in the requester's region
//	tier 3: any remaining peer, only if fewer than 3 selected so far
//
// Within a tier, candidates are ordered by peerId, which is arbitrary but
// stable.
func (s *Selector) Pick(requesterID string, region classify.RegionTag) []Candidate {
	pool := s.registry.Snapshot(func(rec *registry.PeerRecord) bool {
		return rec.PeerID != requesterID
	})

	sort.Slice(pool, func(i, j int) bool {
		return pool[i].PeerID < pool[j].PeerID
	})

	selected := make([]Candidate, 0, s.maxPeers)
	taken := make(map[string]bool)

	take := func(rec *registry.PeerRecord) {
		taken[rec.PeerID] = true
		selected = append(selected, Candidate{
			PeerID:         rec.PeerID,
			NetAddr:        rec.NetAddr,
			Port:           rec.Port,
			Classification: rec.Classification,
			Region:         rec.Region,
			LastSeen:       rec.LastSeen,
		})
	}

	// Tier 1: official builds in the same region. The tier cap never
	// overrides the overall cap.
	for _, rec := range pool {
		if len(selected) >= tier1Cap || len(selected) >= s.maxPeers {
			break
		}
		if rec.Region == region && rec.Classification.AppVariant == classify.VariantOfficial {
			take(rec)
		}
	}

	// Tier 2: anything non-untrusted in the same region.
	for _, rec := range pool {
		if len(selected) >= s.maxPeers {
			break
		}
		if taken[rec.PeerID] {
			continue
		}
		if rec.Region == region && rec.Classification.TrustLevel != classify.TrustUntrusted {
			take(rec)
		}
	}

	// Tier 3: fallback across regions and trust levels, only when the pool
	// is too thin to bootstrap from.
	if len(selected) < tier3Floor {
		for _, rec := range pool {
			if len(selected) >= s.maxPeers {
				break
			}
			if taken[rec.PeerID] {
				continue
			}
			take(rec)
		}
	}

	return selected
}
