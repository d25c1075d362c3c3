package network

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewZmqNode(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())
	if node == nil {
		t.Fatal("NewZmqNode returned nil")
	}
	if node.ID() != "test-node" {
		t.Errorf("Expected nodeID 'test-node', got %s", node.ID())
	}
	if node.Address() != "tcp://127.0.0.1:5555" {
		t.Errorf("Expected address 'tcp://127.0.0.1:5555', got %s", node.Address())
	}
}

func TestZmqNodeRegisterPeer(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())

	node.RegisterPeer("peer1", "tcp://127.0.0.1:5556")
	peers := node.GetPeers()
	if len(peers) != 1 || peers["peer1"] == nil {
		t.Fatalf("Expected peer1, got %v", peers)
	}

	// GetPeers hands out copies.
	peers["peer1"].Address = "tampered"
	if node.GetPeers()["peer1"].Address != "tcp://127.0.0.1:5556" {
		t.Error("GetPeers must not expose internal state")
	}

	node.UnregisterPeer("peer1")
	if len(node.GetPeers()) != 0 {
		t.Error("Expected 0 peers after unregister")
	}
}

func TestNodeStats(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())
	node.RegisterPeer("peer1", "tcp://127.0.0.1:5556")

	stats := node.GetStats()
	if stats.NodeID != "test-node" {
		t.Errorf("Expected NodeID 'test-node', got %s", stats.NodeID)
	}
	if stats.PeerCount != 1 {
		t.Errorf("Expected PeerCount 1, got %d", stats.PeerCount)
	}
	if stats.IsRunning {
		t.Error("Node should not be running")
	}
}

func TestSendBeforeStart(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())

	if err := node.SendDirect("peer1", Message{Type: TypeVector}); !errors.Is(err, ErrNodeNotRunning) {
		t.Errorf("Expected ErrNodeNotRunning, got %v", err)
	}
	if err := node.Broadcast(Message{Type: TypeVector}, nil); !errors.Is(err, ErrNodeNotRunning) {
		t.Errorf("Expected ErrNodeNotRunning, got %v", err)
	}
}

func TestParseMessage(t *testing.T) {
	if _, err := parseMessage([]byte(`{"type":"vector","from":"a","frame":"AQID"}`)); err != nil {
		t.Errorf("Expected valid message, got %v", err)
	}
	if _, err := parseMessage([]byte(`{"from":"a"}`)); err == nil {
		t.Error("Expected error for message without type")
	}
	if _, err := parseMessage(make([]byte, MaxNetworkMessageSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
}

func TestNewP2PManager(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())
	p2p := NewP2PManager(node, zerolog.Nop())

	if p2p == nil {
		t.Fatal("NewP2PManager returned nil")
	}
	if p2p.PeerCount() != 0 {
		t.Errorf("Expected 0 peers, got %d", p2p.PeerCount())
	}
}

func TestP2PManagerPrune(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())
	p2p := NewP2PManager(node, zerolog.Nop())

	p2p.addPeer("fresh", "tcp://127.0.0.1:5556")
	p2p.addPeer("stale", "tcp://127.0.0.1:5557")
	p2p.knownPeers["stale"].LastSeen = time.Now().Add(-time.Hour)

	if got := len(p2p.GetHealthyPeers()); got != 1 {
		t.Errorf("Expected 1 healthy peer, got %d", got)
	}

	p2p.prune()
	if p2p.PeerCount() != 1 {
		t.Errorf("Expected 1 peer after prune, got %d", p2p.PeerCount())
	}
	if _, ok := node.GetPeers()["stale"]; ok {
		t.Error("Pruned peer should be unregistered from the node")
	}
}

func TestP2PManagerAnnounceAndTouch(t *testing.T) {
	node := NewZmqNode("test-node", "127.0.0.1", 5555, zerolog.Nop())
	p2p := NewP2PManager(node, zerolog.Nop())

	handled, err := p2p.HandleMessage(&Message{Type: TypePeerAnnounce, From: "peer1", Address: "tcp://127.0.0.1:5556"})
	if !handled || err != nil {
		t.Fatalf("Expected announce handled, got %v %v", handled, err)
	}
	if p2p.PeerCount() != 1 {
		t.Fatalf("Expected 1 peer, got %d", p2p.PeerCount())
	}

	p2p.knownPeers["peer1"].LastSeen = time.Now().Add(-time.Hour)
	p2p.Touch("peer1")
	if len(p2p.GetHealthyPeers()) != 1 {
		t.Error("Touch should refresh the peer")
	}

	if handled, _ := p2p.HandleMessage(&Message{Type: TypeVector, From: "peer1"}); handled {
		t.Error("Vector messages are not peer management")
	}
}

func TestAdvertiseAddress(t *testing.T) {
	node := NewZmqNode("test-node", "0.0.0.0", 5555, zerolog.Nop())
	if node.AdvertiseAddress() != node.Address() {
		t.Errorf("Expected advertise address to default to %s, got %s", node.Address(), node.AdvertiseAddress())
	}

	node.SetAdvertiseAddress("tcp://10.0.0.1:5555")
	node.SetAdvertiseAddress("")
	if node.AdvertiseAddress() != "tcp://10.0.0.1:5555" {
		t.Errorf("Expected advertise address 'tcp://10.0.0.1:5555', got %s", node.AdvertiseAddress())
	}
	if node.Address() != "tcp://0.0.0.0:5555" {
		t.Errorf("Bind address changed to %s", node.Address())
	}

	// A seed list that contains this node's own advertised address skips it.
	p2p := NewP2PManager(node, zerolog.Nop())
	p2p.DiscoverPeers([]string{"tcp://10.0.0.1:5555"})
	if p2p.PeerCount() != 0 {
		t.Errorf("Expected own address skipped, got %d peers", p2p.PeerCount())
	}
}

func TestNetworkServiceAdvertise(t *testing.T) {
	cfg := DefaultNetworkConfig()
	cfg.Host = "0.0.0.0"
	cfg.Advertise = "tcp://192.0.2.7:5555"
	ns := NewNetworkService(cfg, zerolog.Nop())

	status := ns.GetStatus()
	if status.Address != "tcp://0.0.0.0:5555" || status.Advertise != "tcp://192.0.2.7:5555" {
		t.Errorf("Unexpected addresses: bind %s advertise %s", status.Address, status.Advertise)
	}
}
