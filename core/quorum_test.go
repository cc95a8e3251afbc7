package core

import (
	"crypto/ed25519"
	"testing"
)

func guardianSet(t *testing.T, n int) ([]DID, map[DID]KeyPair) {
	t.Helper()
	var dids []DID
	keys := make(map[DID]KeyPair)
	for i := 0; i < n; i++ {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		did := DeriveDID(kp.Public, ScopeGuardian)
		dids = append(dids, did)
		keys[did] = kp
	}
	return dids, keys
}

func pubKeyMap(keys map[DID]KeyPair) map[DID]ed25519.PublicKey {
	out := make(map[DID]ed25519.PublicKey, len(keys))
	for did, kp := range keys {
		out[did] = kp.Public
	}
	return out
}

func signaturesFor(guardians []DID, keys map[DID]KeyPair, message []byte) []SignerSignature {
	out := make([]SignerSignature, 0, len(guardians))
	for _, g := range guardians {
		out = append(out, SignerSignature{Signer: g, Signature: keys[g].Sign(message)})
	}
	return out
}

// TestQuorumVerification covers P5: a proof verifies iff the authorized
// signers among the claimed keys satisfy the configured quorum.
func TestQuorumVerification(t *testing.T) {
	guardians, keys := guardianSet(t, 3)
	pubs := pubKeyMap(keys)
	message := []byte("epoch-7-anchor")

	// 2 of 3 sign: satisfies majority.
	proof := QuorumProof{Config: MajorityQuorum(), Signatures: signaturesFor(guardians[:2], keys, message)}

	if err := VerifyQuorumProof(proof, guardians, pubs, message); err != nil {
		t.Fatalf("expected majority quorum to verify, got %v", err)
	}
}

func TestQuorumVerificationFailsBelowThreshold(t *testing.T) {
	guardians, keys := guardianSet(t, 3)
	pubs := pubKeyMap(keys)
	message := []byte("epoch-7-anchor")

	proof := QuorumProof{Config: MajorityQuorum(), Signatures: signaturesFor(guardians[:1], keys, message)}

	if err := VerifyQuorumProof(proof, guardians, pubs, message); !KindQuorumFailure.Is(err) {
		t.Fatalf("expected KindQuorumFailure for 1-of-3, got %v", err)
	}
}

// TestQuorumVerificationRejectsUnauthorizedSigner covers P5's requirement
// that adding ANY unauthorized signer fails verification outright, even
// when enough valid guardian signatures are present to otherwise satisfy
// quorum on their own.
func TestQuorumVerificationRejectsUnauthorizedSigner(t *testing.T) {
	guardians, keys := guardianSet(t, 3)
	pubs := pubKeyMap(keys)
	message := []byte("epoch-7-anchor")

	outsider, _ := GenerateKeyPair()
	outsiderDID := DeriveDID(outsider.Public, ScopeGuardian)

	sigs := signaturesFor(guardians[:2], keys, message) // 2-of-3: would satisfy majority alone
	sigs = append(sigs, SignerSignature{Signer: outsiderDID, Signature: outsider.Sign(message)})
	proof := QuorumProof{Config: MajorityQuorum(), Signatures: sigs}

	if err := VerifyQuorumProof(proof, guardians, pubs, message); !KindUnauthorized.Is(err) {
		t.Fatalf("expected an outsider signature to reject the whole proof, got %v", err)
	}
}

func TestQuorumVerificationFailsOnTamperedMessage(t *testing.T) {
	guardians, keys := guardianSet(t, 3)
	pubs := pubKeyMap(keys)
	message := []byte("epoch-7-anchor")

	proof := QuorumProof{Config: MajorityQuorum(), Signatures: signaturesFor(guardians, keys, message)}

	tampered := []byte("epoch-8-anchor")
	if err := VerifyQuorumProof(proof, guardians, pubs, tampered); !KindQuorumFailure.Is(err) {
		t.Fatalf("expected tampered message to invalidate all signatures, got %v", err)
	}
}

func TestThresholdQuorum(t *testing.T) {
	guardians, keys := guardianSet(t, 4)
	q := ThresholdQuorum(0.75)
	signers := []DID{guardians[0], guardians[1], guardians[2]}
	if !q.Satisfied(guardians, signers) {
		t.Fatalf("expected 3/4 to satisfy a 0.75 threshold")
	}
	if q.Satisfied(guardians, signers[:2]) {
		t.Fatalf("expected 2/4 not to satisfy a 0.75 threshold")
	}
	_ = keys
}

func TestWeightedQuorum(t *testing.T) {
	guardians, _ := guardianSet(t, 3)
	weights := []GuardianWeight{
		{DID: guardians[0], Weight: 10},
		{DID: guardians[1], Weight: 1},
		{DID: guardians[2], Weight: 1},
	}
	q := WeightedQuorum(weights)
	if !q.Satisfied(guardians, []DID{guardians[0]}) {
		t.Fatalf("expected heaviest single guardian to satisfy weighted quorum")
	}
	if q.Satisfied(guardians, []DID{guardians[1], guardians[2]}) {
		t.Fatalf("expected two light guardians not to satisfy weighted quorum")
	}
}
