package wsock

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/sirupsen/logrus"
)

func startServer(t *testing.T, address string) (*Server, *rendezvous.Engine) {
	engine := rendezvous.NewEngine(
		rendezvous.EngineConfig{},
		common.NewTestEntry(t, logrus.DebugLevel),
	)

	server := NewServer(address, engine, common.NewTestEntry(t, logrus.DebugLevel))
	go server.Run()

	return server, engine
}

// dial retries until the server socket is accepting connections.
func dial(t *testing.T, address string) *websocket.Conn {
	var ws *websocket.Conn
	var err error

	for i := 0; i < 40; i++ {
		ws, _, err = websocket.DefaultDialer.Dial("ws://"+address+"/", nil)
		if err == nil {
			return ws
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("dialing %s: %v", address, err)
	return nil
}

func send(t *testing.T, ws *websocket.Conn, msg map[string]interface{}) {
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}

	return frame
}

func registerPeer(t *testing.T, ws *websocket.Conn, peerID string) map[string]interface{} {
	send(t, ws, map[string]interface{}{
		"action": "register",
		"peerId": peerID,
	})

	frame := recv(t, ws)

	if frame["success"] != true {
		t.Fatalf("registration of %s failed: %v", peerID, frame)
	}

	return frame
}

func TestWsockRegisterHeartbeat(t *testing.T) {
	address := "127.0.0.1:10445"

	server, _ := startServer(t, address)
	defer server.Shutdown()

	ws := dial(t, address)
	defer ws.Close()

	frame := registerPeer(t, ws, "alice")

	data, ok := frame["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("register reply should carry data, got %v", frame)
	}

	// The test connects over loopback.
	if data["assignedRegion"] != "local" {
		t.Fatalf("assignedRegion = %v, want local", data["assignedRegion"])
	}

	if data["nextHeartbeatDeadline"] == nil {
		t.Fatal("register reply should carry a heartbeat deadline")
	}

	send(t, ws, map[string]interface{}{"action": "heartbeat"})

	if frame := recv(t, ws); frame["success"] != true {
		t.Fatalf("heartbeat failed: %v", frame)
	}

	send(t, ws, map[string]interface{}{"action": "warble"})

	if frame := recv(t, ws); frame["error"] != "unknown action" {
		t.Fatalf("expected unknown action error, got %v", frame)
	}
}

func TestWsockRelay(t *testing.T) {
	address := "127.0.0.1:10446"

	server, _ := startServer(t, address)
	defer server.Shutdown()

	alice := dial(t, address)
	defer alice.Close()
	registerPeer(t, alice, "alice")

	bob := dial(t, address)
	defer bob.Close()
	registerPeer(t, bob, "bob")

	send(t, bob, map[string]interface{}{
		"action": "offer",
		"to":     "alice",
		"payload": map[string]string{
			"type": "offer",
			"sdp":  "test offer",
		},
	})

	if frame := recv(t, bob); frame["success"] != true {
		t.Fatalf("relay should be acknowledged, got %v", frame)
	}

	// The envelope arrives on alice's socket as-is.
	env := recv(t, alice)

	if env["action"] != "offer" {
		t.Fatalf("action = %v, want offer", env["action"])
	}
	if env["from"] != "bob" {
		t.Fatalf("from = %v, want bob", env["from"])
	}

	payload, ok := env["payload"].(map[string]interface{})
	if !ok || payload["sdp"] != "test offer" {
		t.Fatalf("unexpected payload %v", env["payload"])
	}
}

func TestWsockSignalRequiresRegistration(t *testing.T) {
	address := "127.0.0.1:10447"

	server, _ := startServer(t, address)
	defer server.Shutdown()

	ws := dial(t, address)
	defer ws.Close()

	send(t, ws, map[string]interface{}{
		"action": "offer",
		"to":     "whoever",
	})

	if frame := recv(t, ws); frame["error"] != "not registered" {
		t.Fatalf("expected not registered error, got %v", frame)
	}
}

func TestWsockConnClosed(t *testing.T) {
	address := "127.0.0.1:10448"

	server, engine := startServer(t, address)
	defer server.Shutdown()

	ws := dial(t, address)
	registerPeer(t, ws, "alice")

	if _, ok := engine.Lookup("alice"); !ok {
		t.Fatal("alice should be registered")
	}

	ws.Close()

	// The read loop removes the peer when the socket dies.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := engine.Lookup("alice"); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("peer should be removed after its connection closes")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
