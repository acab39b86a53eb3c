package classify

import (
	"net"
	"strings"

	"github.com/mosaicnetworks/rendezvous/src/common"
)

// RegionTag is a coarse network-region label assigned to a peer at
// registration. It is a routing heuristic, not a geolocation.
type RegionTag string

// RegionLocal is assigned to peers connecting from loopback or private-range
// addresses, typically LAN deployments and tests.
const RegionLocal RegionTag = "local"

// regionTags is the fixed set of public region labels. Region assignment is a
// stable hash over this set; the labels themselves carry no geographic
// guarantee.
var regionTags = []RegionTag{
	"us-east",
	"us-west",
	"eu-west",
	"eu-central",
	"ap-south",
	"ap-northeast",
}

// Regions returns all assignable region tags, including RegionLocal.
func Regions() []RegionTag {
	res := make([]RegionTag, 0, len(regionTags)+1)
	res = append(res, RegionLocal)
	res = append(res, regionTags...)
	return res
}

// Region derives a region tag from a client's network origin. Loopback and
// private-range addresses map to RegionLocal. All other addresses map
// deterministically to one of the fixed tags: the same origin always yields
// the same tag within a process lifetime.
func Region(originAddr string) RegionTag {
	host := originAddr

	if h, _, err := net.SplitHostPort(originAddr); err == nil {
		host = h
	}

	host = strings.TrimSpace(host)

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return RegionLocal
		}
	} else if host == "localhost" || host == "" {
		return RegionLocal
	}

	idx := common.Hash32([]byte(host)) % uint32(len(regionTags))

	return regionTags[idx]
}
