package network

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// FuzzMessageParsing tests network message parsing with random inputs.
// Run with: go test -fuzz=FuzzMessageParsing -fuzztime=30s ./omega-engine/network/
func FuzzMessageParsing(f *testing.F) {
	validMsg := Message{
		Type:      TypeVector,
		From:      "node1",
		To:        "node2",
		Frame:     []byte{0x01, 0x02, 0x03},
		Timestamp: time.Now(),
		Nonce:     "abc123",
	}
	validJSON, _ := json.Marshal(validMsg)
	f.Add(validJSON)

	f.Add([]byte(`{"type":"peer_announce","from":"sender","address":"tcp://127.0.0.1:5555"}`))
	f.Add([]byte(`{"type":"peer_exchange_response","from":"s","peers":[{"id":"p","address":"a"}]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(`"string"`))
	f.Add([]byte(`{"type":"vector","from":"x","frame":"!!notbase64"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := parseMessage(data)
		if err != nil {
			return
		}
		if msg.Type == "" || msg.From == "" {
			t.Fatalf("accepted message without type or sender: %+v", msg)
		}
		if _, err := json.Marshal(msg); err != nil {
			t.Fatalf("re-marshal failed: %v", err)
		}
	})
}

// FuzzMessageSizeCheck tests that oversized messages are rejected before decoding.
func FuzzMessageSizeCheck(f *testing.F) {
	f.Add(100)
	f.Add(MaxNetworkMessageSize)
	f.Add(MaxNetworkMessageSize + 1)

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 4*MaxNetworkMessageSize {
			return
		}
		_, err := parseMessage(make([]byte, size))
		if size > MaxNetworkMessageSize && err == nil {
			t.Fatalf("message of %d bytes accepted", size)
		}
	})
}

func TestReplayProtection(t *testing.T) {
	n := NewZmqNode("replay", "127.0.0.1", 0, zerolog.Nop())

	msg := &Message{Type: TypeVector, From: "peer", Nonce: "n-1", Timestamp: time.Now()}
	if !n.isValidReplay(msg) {
		t.Fatal("first delivery should be accepted")
	}
	if n.isValidReplay(msg) {
		t.Error("replayed message should be rejected")
	}

	other := *msg
	other.From = "someone-else"
	if !n.isValidReplay(&other) {
		t.Error("same nonce from a different sender should be accepted")
	}

	stale := &Message{Type: TypeVector, From: "peer", Nonce: "n-2", Timestamp: time.Now().Add(-2 * time.Minute)}
	if n.isValidReplay(stale) {
		t.Error("stale message should be rejected")
	}

	n.cleanReplayCache(time.Now())
	if len(n.replayCache) != 2 {
		t.Errorf("Expected 2 live entries, got %d", len(n.replayCache))
	}
	n.cleanReplayCache(time.Now().Add(2 * n.replayTolerance))
	if len(n.replayCache) != 0 {
		t.Errorf("Expected cache emptied, got %d entries", len(n.replayCache))
	}
}

func TestReplayProtectionRejectsUnstampedAndFutureMessages(t *testing.T) {
	n := NewZmqNode("replay", "127.0.0.1", 0, zerolog.Nop())

	unstamped := &Message{Type: TypeVector, From: "peer", Timestamp: time.Now().Add(-time.Hour)}
	if n.isValidReplay(unstamped) {
		t.Error("message without nonce should be rejected")
	}
	if n.isValidReplay(&Message{Type: TypePeerAnnounce, From: "peer", Timestamp: time.Now()}) {
		t.Error("control message without nonce should be rejected")
	}

	future := &Message{Type: TypeVector, From: "peer", Nonce: "x", Timestamp: time.Now().Add(24 * time.Hour)}
	if n.isValidReplay(future) {
		t.Error("message from the far future should be rejected")
	}

	// A message stamped slightly ahead stays cached until it would go stale,
	// so it cannot be replayed after the cache is cleaned.
	ahead := &Message{Type: TypeVector, From: "peer", Nonce: "y", Timestamp: time.Now().Add(n.replayTolerance / 2)}
	if !n.isValidReplay(ahead) {
		t.Fatal("message within the tolerance should be accepted")
	}
	n.cleanReplayCache(time.Now().Add(n.replayTolerance + time.Second))
	if n.isValidReplay(ahead) {
		t.Error("replay of a future-stamped message accepted after cache cleaning")
	}
}
