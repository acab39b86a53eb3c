package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/sirupsen/logrus"
)

func testRegistry(t *testing.T) (*Registry, *clock.Mock) {
	clk := clock.NewMock()
	reg := New(clk, common.NewTestEntry(t, logrus.DebugLevel))
	return reg, clk
}

func newRecord(peerID string, region classify.RegionTag) *PeerRecord {
	return &PeerRecord{
		PeerID:  peerID,
		NetAddr: "127.0.0.1:1337",
		Region:  region,
	}
}

func TestRegisterValidation(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Register(&PeerRecord{NetAddr: "127.0.0.1:1337"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("registering without peerId should fail with ErrValidation, got %v", err)
	}

	if _, err := reg.Register(&PeerRecord{PeerID: "alice"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("registering without address should fail with ErrValidation, got %v", err)
	}

	if reg.Count() != 0 {
		t.Fatalf("failed registrations should not create records")
	}
}

func TestRegisterReplaces(t *testing.T) {
	reg, clk := testRegistry(t)

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	if !reg.Heartbeat("alice") {
		t.Fatal("heartbeat should succeed for a registered peer")
	}

	clk.Add(time.Minute)

	// Re-registering with the same peerId replaces the record wholesale and
	// resets the liveness counters.
	stored, err := reg.Register(newRecord("alice", "us-east"))
	if err != nil {
		t.Fatal(err)
	}

	if reg.Count() != 1 {
		t.Fatalf("re-registration should not create a second record, count=%d", reg.Count())
	}

	if stored.HeartbeatCount != 0 {
		t.Fatalf("re-registration should reset HeartbeatCount, got %d", stored.HeartbeatCount)
	}

	if !stored.RegisteredAt.Equal(clk.Now()) {
		t.Fatalf("re-registration should reset RegisteredAt")
	}

	counts := reg.RegionCounts()
	if counts[classify.RegionLocal] != 0 {
		t.Fatalf("old region index entry should be dropped, got %v", counts)
	}
	if counts["us-east"] != 1 {
		t.Fatalf("new region index entry should exist, got %v", counts)
	}

	stats := reg.Aggregate()
	if stats.TotalRegistrations != 2 {
		t.Fatalf("totalRegistrations should count both registrations, got %d", stats.TotalRegistrations)
	}
	if stats.CurrentPeers != 1 {
		t.Fatalf("currentPeers should be 1, got %d", stats.CurrentPeers)
	}
}

func TestHeartbeat(t *testing.T) {
	reg, clk := testRegistry(t)

	if reg.Heartbeat("ghost") {
		t.Fatal("heartbeat should never create a record")
	}

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	clk.Add(30 * time.Second)

	if !reg.Heartbeat("alice") {
		t.Fatal("heartbeat should succeed for a registered peer")
	}

	rec, ok := reg.Get("alice")
	if !ok {
		t.Fatal("alice should be registered")
	}

	if rec.HeartbeatCount != 1 {
		t.Fatalf("HeartbeatCount should be 1, got %d", rec.HeartbeatCount)
	}

	if !rec.LastSeen.Equal(clk.Now()) {
		t.Fatalf("heartbeat should refresh LastSeen")
	}
}

func TestTouch(t *testing.T) {
	reg, clk := testRegistry(t)

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	clk.Add(30 * time.Second)

	if !reg.Touch("alice") {
		t.Fatal("touch should succeed for a registered peer")
	}

	rec, _ := reg.Get("alice")

	if rec.HeartbeatCount != 0 {
		t.Fatalf("touch should not count as a heartbeat, got %d", rec.HeartbeatCount)
	}

	if !rec.LastSeen.Equal(clk.Now()) {
		t.Fatalf("touch should refresh LastSeen")
	}
}

type stubTransport struct{ open bool }

func (s *stubTransport) Deliver(data []byte) error { return nil }
func (s *stubTransport) IsOpen() bool              { return s.open }

func TestSetTransport(t *testing.T) {
	reg, clk := testRegistry(t)

	if reg.SetTransport("ghost", &stubTransport{open: true}) {
		t.Fatal("attaching a transport should never create a record")
	}

	rec := newRecord("alice", classify.RegionLocal)
	rec.Transport = &stubTransport{open: false}

	if _, err := reg.Register(rec); err != nil {
		t.Fatal(err)
	}

	clk.Add(30 * time.Second)

	// A reconnecting peer gets a fresh handle and counts as seen.
	if !reg.SetTransport("alice", &stubTransport{open: true}) {
		t.Fatal("attaching a transport to a registered peer should succeed")
	}

	got, _ := reg.Get("alice")

	if !got.Reachable() {
		t.Fatal("record should be reachable through the new transport")
	}

	if !got.LastSeen.Equal(clk.Now()) {
		t.Fatal("attaching a transport should refresh LastSeen")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	if !reg.Remove("alice") {
		t.Fatal("first remove should report a removal")
	}

	if reg.Remove("alice") {
		t.Fatal("second remove should be a no-op")
	}

	if reg.Count() != 0 {
		t.Fatalf("count should be 0, got %d", reg.Count())
	}

	if len(reg.RegionCounts()) != 0 {
		t.Fatalf("region index should be empty, got %v", reg.RegionCounts())
	}
}

func TestEvictIfStale(t *testing.T) {
	reg, clk := testRegistry(t)

	threshold := 2 * time.Minute

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	// Fresh peer survives.
	if reg.EvictIfStale("alice", clk.Now(), threshold) {
		t.Fatal("fresh peer should not be evicted")
	}

	clk.Add(threshold)

	// A heartbeat that lands before the eviction wins, even if the scan was
	// performed against an older snapshot.
	staleNow := clk.Now()
	reg.Heartbeat("alice")

	if reg.EvictIfStale("alice", staleNow, threshold) {
		t.Fatal("a peer refreshed after the scan should not be evicted")
	}

	clk.Add(threshold)

	if !reg.EvictIfStale("alice", clk.Now(), threshold) {
		t.Fatal("silent peer should be evicted")
	}

	if _, ok := reg.Get("alice"); ok {
		t.Fatal("evicted peer should be gone")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Register(newRecord("alice", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	snap := reg.Snapshot(nil)
	if len(snap) != 1 {
		t.Fatalf("snapshot should have 1 record, got %d", len(snap))
	}

	// Mutating the snapshot must not leak into the registry.
	snap[0].NetAddr = "mutated"

	rec, _ := reg.Get("alice")
	if rec.NetAddr != "127.0.0.1:1337" {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestRecentlyRegistered(t *testing.T) {
	reg, clk := testRegistry(t)

	if _, err := reg.Register(newRecord("old", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	clk.Add(10 * time.Minute)

	if _, err := reg.Register(newRecord("new", classify.RegionLocal)); err != nil {
		t.Fatal(err)
	}

	recent := reg.RecentlyRegistered(5 * time.Minute)
	if len(recent) != 1 || recent[0].PeerID != "new" {
		t.Fatalf("recent window should only contain 'new', got %v", recent)
	}
}
