package core

import "testing"

func signedNode(t *testing.T, kp KeyPair, entity, issuer DID, parents []CID, seq uint64) DAGNode {
	t.Helper()
	n := DAGNode{Entity: entity, Issuer: issuer, Parents: parents, Seq: seq, Kind: "test", Timestamp: 1}
	msg, err := n.signingBytes()
	if err != nil {
		t.Fatalf("signingBytes: %v", err)
	}
	n.Signature = kp.Sign(msg)
	return n
}

// TestDAGCIDDeterminism covers P1 at the DAGNode level: encoding and
// decoding a node must not change its CID.
func TestDAGCIDDeterminism(t *testing.T) {
	kp, _ := GenerateKeyPair()
	n := signedNode(t, kp, "did:icn:coop:a", "did:icn:coop:a", nil, 1)

	want, err := n.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}

	b, err := Canonical(n)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	var decoded DAGNode
	if err := DecodeCanonical(b, &decoded); err != nil {
		t.Fatalf("DecodeCanonical: %v", err)
	}
	got, err := decoded.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if !want.Equal(got) {
		t.Fatalf("expected CID(N) == CID(decode(encode(N))), got %s != %s", want, got)
	}
}

func TestDAGStorePutRejectsBadSignature(t *testing.T) {
	kp, _ := GenerateKeyPair()
	other, _ := GenerateKeyPair()
	store := NewDAGStore()

	n := signedNode(t, kp, "did:icn:coop:a", "did:icn:coop:a", nil, 1)
	if _, err := store.Put(n, other.Public); !KindInvalidSignature.Is(err) {
		t.Fatalf("expected KindInvalidSignature, got %v", err)
	}
}

func TestDAGStorePutRejectsMissingParent(t *testing.T) {
	kp, _ := GenerateKeyPair()
	store := NewDAGStore()
	bogusParent, _ := ComputeCID([]byte("nonexistent"))

	n := signedNode(t, kp, "did:icn:coop:a", "did:icn:coop:a", []CID{bogusParent}, 1)
	if _, err := store.Put(n, kp.Public); !KindNotFound.Is(err) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestDAGStorePutEnforcesStrictSequence(t *testing.T) {
	kp, _ := GenerateKeyPair()
	store := NewDAGStore()
	entity := DID("did:icn:coop:a")

	n1 := signedNode(t, kp, entity, entity, nil, 1)
	if _, err := store.Put(n1, kp.Public); err != nil {
		t.Fatalf("Put n1: %v", err)
	}

	// Skipping straight to seq 3 must be rejected.
	n3 := signedNode(t, kp, entity, entity, nil, 3)
	if _, err := store.Put(n3, kp.Public); !KindConflict.Is(err) {
		t.Fatalf("expected KindConflict for out-of-order seq, got %v", err)
	}

	// seq 2 is accepted.
	n2 := signedNode(t, kp, entity, entity, nil, 2)
	if _, err := store.Put(n2, kp.Public); err != nil {
		t.Fatalf("Put n2: %v", err)
	}
}

// TestDAGTipSetCorrectness covers P4: tips(E) is exactly the set of stored
// CIDs with no recorded children in E.
func TestDAGTipSetCorrectness(t *testing.T) {
	kp, _ := GenerateKeyPair()
	store := NewDAGStore()
	entity := DID("did:icn:coop:a")

	n1 := signedNode(t, kp, entity, entity, nil, 1)
	c1, err := store.Put(n1, kp.Public)
	if err != nil {
		t.Fatalf("Put n1: %v", err)
	}
	if tips := store.Tips(entity); len(tips) != 1 || !tips[0].Equal(c1) {
		t.Fatalf("expected single tip c1, got %v", tips)
	}

	n2 := signedNode(t, kp, entity, entity, []CID{c1}, 2)
	c2, err := store.Put(n2, kp.Public)
	if err != nil {
		t.Fatalf("Put n2: %v", err)
	}
	tips := store.Tips(entity)
	if len(tips) != 1 || !tips[0].Equal(c2) {
		t.Fatalf("expected tips to advance to c2 alone, got %v", tips)
	}
	if len(store.Children(c1)) != 1 {
		t.Fatalf("expected c1 to have exactly one recorded child")
	}
}

// TestDAGStoreWALReplay covers replay across a restart for a chain with a
// real, non-genesis parent link — a parentless-only replay would not catch
// Parents being dropped by the canonical encoding (see
// TestCIDSurvivesCanonicalEncoding), since an empty Parents slice already
// round-trips as empty either way.
func TestDAGStoreWALReplay(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/dag.wal"

	kp, _ := GenerateKeyPair()
	entity := DID("did:icn:coop:a")

	store, err := OpenDAGStore(path)
	if err != nil {
		t.Fatalf("OpenDAGStore: %v", err)
	}
	n1 := signedNode(t, kp, entity, entity, nil, 1)
	c1, err := store.Put(n1, kp.Public)
	if err != nil {
		t.Fatalf("Put n1: %v", err)
	}
	n2 := signedNode(t, kp, entity, entity, []CID{c1}, 2)
	c2, err := store.Put(n2, kp.Public)
	if err != nil {
		t.Fatalf("Put n2: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenDAGStore(path)
	if err != nil {
		t.Fatalf("reopen OpenDAGStore: %v", err)
	}
	defer reopened.Close()
	if !reopened.Contains(c1) || !reopened.Contains(c2) {
		t.Fatalf("expected replayed store to contain both nodes from prior session")
	}

	tips := reopened.Tips(entity)
	if len(tips) != 1 || !tips[0].Equal(c2) {
		t.Fatalf("expected replayed tips to advance to c2 alone, got %v", tips)
	}

	children := reopened.Children(c1)
	if len(children) != 1 || !children[0].Equal(c2) {
		t.Fatalf("expected c1's parent link to survive replay as a single child c2, got %v", children)
	}
}
