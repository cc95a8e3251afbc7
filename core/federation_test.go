package core

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestHandleNetworkMessageReplication(t *testing.T) {
	ClearReplicatedMessages()
	defer ClearReplicatedMessages()

	HandleNetworkMessage(NetworkMessage{Topic: "icn.trustbundle", Content: []byte("a")})
	HandleNetworkMessage(NetworkMessage{Topic: "icn.trustbundle", Content: []byte("b")})
	HandleNetworkMessage(NetworkMessage{Topic: "icn.governance", Content: []byte("c")})

	bundleMsgs := GetReplicatedMessages("icn.trustbundle")
	if len(bundleMsgs) != 2 {
		t.Fatalf("expected 2 replicated messages on icn.trustbundle, got %d", len(bundleMsgs))
	}
	if string(bundleMsgs[0]) != "a" || string(bundleMsgs[1]) != "b" {
		t.Fatalf("unexpected replicated payloads: %v", bundleMsgs)
	}

	govMsgs := GetReplicatedMessages("icn.governance")
	if len(govMsgs) != 1 || string(govMsgs[0]) != "c" {
		t.Fatalf("unexpected governance replication: %v", govMsgs)
	}
}

func TestClearReplicatedMessages(t *testing.T) {
	ClearReplicatedMessages()
	HandleNetworkMessage(NetworkMessage{Topic: "t", Content: []byte("x")})
	if len(GetReplicatedMessages("t")) != 1 {
		t.Fatalf("expected one message before clear")
	}
	ClearReplicatedMessages()
	if len(GetReplicatedMessages("t")) != 0 {
		t.Fatalf("expected replication store empty after clear")
	}
}

// TestProtocolServerLimiterPerPeerBudget covers the per-peer inbound rate
// limiting on ProtocolServer: a peer gets exactly its burst allowance before
// being throttled, and repeat lookups for the same peer reuse one limiter
// rather than resetting its budget on every request.
func TestProtocolServerLimiterPerPeerBudget(t *testing.T) {
	srv := NewProtocolServer(nil, nil)
	p := peer.ID("test-peer-a")

	l := srv.limiterFor(p)
	allowed := 0
	for i := 0; i < perPeerBurst+5; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed != perPeerBurst {
		t.Fatalf("expected exactly %d requests to be allowed within burst, got %d", perPeerBurst, allowed)
	}

	if same := srv.limiterFor(p); same != l {
		t.Fatalf("expected limiterFor to reuse the same limiter instance for a repeat peer")
	}

	other := srv.limiterFor(peer.ID("test-peer-b"))
	if other == l {
		t.Fatalf("expected a distinct limiter for a different peer")
	}
	if !other.Allow() {
		t.Fatalf("expected a fresh peer to have its own unconsumed burst")
	}
}
