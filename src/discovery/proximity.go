package discovery

import (
	"crypto/sha256"
	"math/big"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mosaicnetworks/rendezvous/src/registry"
)

// digestCacheSize bounds the identity-key digest cache. Keys are re-hashed on
// every closest-peer query otherwise, and the key space is small compared to
// query volume.
const digestCacheSize = 4096

// Neighbor is one entry of a closest-peers result.
type Neighbor struct {
	PeerID      string `json:"peerId"`
	IdentityKey string `json:"identityKey"`
	NetAddr     string `json:"address"`
}

// ProximityIndex is a flat distance-ordered lookup over the identity keys of
// registered peers. It approximates Kademlia's XOR-metric closest-node query
// without the hierarchical buckets.
type ProximityIndex struct {
	registry *registry.Registry
	digests  *lru.Cache[string, []byte]
}

// NewProximityIndex instantiates a ProximityIndex over the given registry.
func NewProximityIndex(reg *registry.Registry) *ProximityIndex {
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, []byte](digestCacheSize)

	return &ProximityIndex{
		registry: reg,
		digests:  cache,
	}
}

// Digest hashes an identity key to the fixed-length digest used as the
// distance-metric input.
func (p *ProximityIndex) Digest(key string) []byte {
	if d, ok := p.digests.Get(key); ok {
		return d
	}

	sum := sha256.Sum256([]byte(key))
	d := sum[:]

	p.digests.Add(key, d)

	return d
}

// XORDistance interprets the byte-wise XOR of two equal-length digests as an
// unsigned big integer. Ordering distances numerically, rather than comparing
// hex strings, is what keeps leading zero bytes from reordering results.
func XORDistance(a, b []byte) *big.Int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	xored := make([]byte, n)
	for i := 0; i < n; i++ {
		xored[i] = a[i] ^ b[i]
	}

	return new(big.Int).SetBytes(xored)
}

// Distance returns the XOR distance between two identity keys.
func (p *ProximityIndex) Distance(a, b string) *big.Int {
	return XORDistance(p.Digest(a), p.Digest(b))
}

// FindClosest returns up to k registered peers ordered by increasing XOR
// distance between their identity key and targetKey. If fewer than k peers
// exist, all of them are returned. The caller's own record is not excluded;
// proximity queries are symmetric.
func (p *ProximityIndex) FindClosest(targetKey string, k int) []Neighbor {
	if k <= 0 {
		return nil
	}

	target := p.Digest(targetKey)

	type ranked struct {
		rec  *registry.PeerRecord
		dist *big.Int
	}

	pool := p.registry.Snapshot(nil)

	rankedPeers := make([]ranked, 0, len(pool))
	for _, rec := range pool {
		key := rec.IdentityKey
		if key == "" {
			key = rec.PeerID
		}
		rankedPeers = append(rankedPeers, ranked{
			rec:  rec,
			dist: XORDistance(target, p.Digest(key)),
		})
	}

	sort.Slice(rankedPeers, func(i, j int) bool {
		if c := rankedPeers[i].dist.Cmp(rankedPeers[j].dist); c != 0 {
			return c < 0
		}
		return rankedPeers[i].rec.PeerID < rankedPeers[j].rec.PeerID
	})

	if k > len(rankedPeers) {
		k = len(rankedPeers)
	}

	res := make([]Neighbor, 0, k)
	for _, rp := range rankedPeers[:k] {
		res = append(res, Neighbor{
			PeerID:      rp.rec.PeerID,
			IdentityKey: rp.rec.IdentityKey,
			NetAddr:     rp.rec.NetAddr,
		})
	}

	return res
}
