package rendezvous

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/sirupsen/logrus"
)

type fakeTransport struct {
	mu        sync.Mutex
	open      bool
	delivered [][]byte
}

func (f *fakeTransport) Deliver(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delivered = append(f.delivered, data)
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.delivered)
}

func testEngine(t *testing.T) (*Engine, *clock.Mock) {
	clk := clock.NewMock()

	engine := NewEngine(
		EngineConfig{
			MaxBootstrapPeers: 10,
			StaleTimeout:      2 * time.Minute,
			EvictInterval:     30 * time.Second,
			Clock:             clk,
		},
		common.NewTestEntry(t, logrus.DebugLevel),
	)

	return engine, clk
}

func register(t *testing.T, engine *Engine, peerID string, meta classify.Metadata) (*RegisterResponse, *fakeTransport) {
	tr := &fakeTransport{open: true}

	resp, err := engine.Register(&RegisterRequest{
		PeerID:   peerID,
		NetAddr:  "127.0.0.1:1337",
		Metadata: meta,
	}, tr)
	if err != nil {
		t.Fatal(err)
	}

	return resp, tr
}

func TestEngineRegister(t *testing.T) {
	engine, clk := testEngine(t)

	official := classify.Metadata{BundleID: "com.mosaicnetworks.babble"}

	register(t, engine, "alice", official)

	resp, _ := register(t, engine, "bob", classify.Metadata{AppName: "SuperChat"})

	if !resp.Success {
		t.Fatal("registration should succeed")
	}

	if resp.AssignedRegion != classify.RegionLocal {
		t.Fatalf("loopback origin should be local, got %q", resp.AssignedRegion)
	}

	if resp.Classification.AppVariant != classify.VariantCustom {
		t.Fatalf("expected custom variant, got %q", resp.Classification.AppVariant)
	}

	if len(resp.Peers) != 1 || resp.Peers[0].PeerID != "alice" {
		t.Fatalf("bootstrap set should be [alice], got %v", resp.Peers)
	}

	if resp.NetworkStats.CurrentPeers != 2 {
		t.Fatalf("stats should count 2 peers, got %d", resp.NetworkStats.CurrentPeers)
	}

	// The deadline is half the staleness threshold, so one missed heartbeat
	// does not get a peer evicted.
	wantDeadline := clk.Now().Add(time.Minute)
	if !resp.NextHeartbeatDeadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %v, want %v", resp.NextHeartbeatDeadline, wantDeadline)
	}
}

func TestEngineHeartbeat(t *testing.T) {
	engine, _ := testEngine(t)

	if _, err := engine.Heartbeat("ghost"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}

	register(t, engine, "alice", classify.Metadata{})

	resp, err := engine.Heartbeat("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatal("heartbeat should succeed")
	}
}

func TestEngineEviction(t *testing.T) {
	engine, clk := testEngine(t)

	register(t, engine, "alice", classify.Metadata{})
	register(t, engine, "bob", classify.Metadata{})

	clk.Add(time.Minute)

	// Alice keeps heartbeating, bob goes silent.
	if _, err := engine.Heartbeat("alice"); err != nil {
		t.Fatal(err)
	}

	clk.Add(time.Minute)

	if evicted := engine.Monitor().Tick(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}

	if _, ok := engine.Lookup("alice"); !ok {
		t.Fatal("alice should survive")
	}

	if _, ok := engine.Lookup("bob"); ok {
		t.Fatal("bob should be evicted")
	}
}

func TestEngineSignal(t *testing.T) {
	engine, _ := testEngine(t)

	register(t, engine, "alice", classify.Metadata{})
	_, bobTr := register(t, engine, "bob", classify.Metadata{})

	err := engine.Signal(relay.Offer, "alice", "bob", map[string]string{
		"type": "offer",
		"sdp":  "test offer",
	})
	if err != nil {
		t.Fatal(err)
	}

	if bobTr.count() != 1 {
		t.Fatalf("bob should receive 1 envelope, got %d", bobTr.count())
	}

	if err := engine.Signal(relay.Offer, "alice", "ghost", nil); !errors.Is(err, relay.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestEngineGossip(t *testing.T) {
	engine, _ := testEngine(t)

	_, aliceTr := register(t, engine, "alice", classify.Metadata{})
	_, bobTr := register(t, engine, "bob", classify.Metadata{})
	_, carolTr := register(t, engine, "carol", classify.Metadata{})

	// Broadcasts never fail as a whole.
	if err := engine.Signal(relay.Gossip, "alice", "", "hello"); err != nil {
		t.Fatal(err)
	}

	if aliceTr.count() != 0 {
		t.Fatal("sender should not receive its own gossip")
	}
	if bobTr.count() != 1 || carolTr.count() != 1 {
		t.Fatalf("bob and carol should each receive 1 envelope, got %d and %d",
			bobTr.count(), carolTr.count())
	}
}

func TestEngineDiscover(t *testing.T) {
	engine, _ := testEngine(t)

	if _, err := engine.Discover("ghost"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}

	register(t, engine, "alice", classify.Metadata{})
	register(t, engine, "bob", classify.Metadata{})

	peers, err := engine.Discover("alice")
	if err != nil {
		t.Fatal(err)
	}

	if len(peers) != 1 || peers[0].PeerID != "bob" {
		t.Fatalf("expected [bob], got %v", peers)
	}
}

func TestEngineUnregister(t *testing.T) {
	engine, _ := testEngine(t)

	register(t, engine, "alice", classify.Metadata{})

	if !engine.Unregister("alice") {
		t.Fatal("unregister should report a removal")
	}

	if engine.Unregister("alice") {
		t.Fatal("second unregister should be a no-op")
	}
}

func TestEngineConnClosed(t *testing.T) {
	engine, _ := testEngine(t)

	register(t, engine, "alice", classify.Metadata{})

	engine.ConnClosed("alice")

	if _, ok := engine.Lookup("alice"); ok {
		t.Fatal("peer should be removed when its connection closes")
	}
}

func TestEngineClosest(t *testing.T) {
	engine, _ := testEngine(t)

	tr := &fakeTransport{open: true}
	for _, peer := range []struct{ id, key string }{
		{"alice", "alice-key"},
		{"bob", "bob-key"},
		{"carol", "carol-key"},
	} {
		_, err := engine.Register(&RegisterRequest{
			PeerID:      peer.id,
			IdentityKey: peer.key,
			NetAddr:     "127.0.0.1:1337",
		}, tr)
		if err != nil {
			t.Fatal(err)
		}
	}

	got := engine.Closest("bob-key", 2)
	if len(got) != 2 || got[0].PeerID != "bob" {
		t.Fatalf("expected bob first, got %v", got)
	}

	// k <= 0 falls back to the default neighbor count.
	if got := engine.Closest("bob-key", 0); len(got) != 3 {
		t.Fatalf("expected all 3 peers, got %d", len(got))
	}
}

func TestEngineReRegisterReplaces(t *testing.T) {
	engine, _ := testEngine(t)

	_, oldTr := register(t, engine, "alice", classify.Metadata{})
	register(t, engine, "bob", classify.Metadata{})
	_, newTr := register(t, engine, "alice", classify.Metadata{})

	if err := engine.Signal(relay.Offer, "bob", "alice", nil); err != nil {
		t.Fatal(err)
	}

	if oldTr.count() != 0 {
		t.Fatal("stale transport should not receive envelopes")
	}
	if newTr.count() != 1 {
		t.Fatalf("fresh transport should receive the envelope, got %d", newTr.count())
	}
}
