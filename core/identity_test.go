package core

import "testing"

// TestSignatureRoundtrip covers spec property P2: a valid signature always
// verifies, and flipping any bit in the message or the signature breaks
// verification.
func TestSignatureRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("proposal#1:approve")
	sig := kp.Sign(msg)

	if !VerifySignature(kp.Public, msg, sig) {
		t.Fatalf("expected valid signature to verify")
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	if VerifySignature(kp.Public, tampered, sig) {
		t.Fatalf("expected verification to fail on tampered message")
	}

	badSig := append([]byte(nil), sig...)
	badSig[0] ^= 0xFF
	if VerifySignature(kp.Public, msg, badSig) {
		t.Fatalf("expected verification to fail on tampered signature")
	}
}

func TestDeriveDIDIncludesScope(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	did := DeriveDID(kp.Public, ScopeCooperative)
	if did == "" {
		t.Fatalf("expected non-empty DID")
	}
	other := DeriveDID(kp.Public, ScopeGuardian)
	if did == other {
		t.Fatalf("expected different scopes to produce different DIDs")
	}
}

func TestIdentityRegistryRegisterIsIdempotent(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	reg := NewIdentityRegistry()
	first := reg.Register(kp.Public, ScopeCommunity)
	second := reg.Register(kp.Public, ScopeCommunity)
	if first.DID != second.DID || !first.Registered.Equal(second.Registered) {
		t.Fatalf("expected re-registration to return the original record unchanged")
	}
}

func TestResolveScopeGuardianActsAsFederation(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	reg := NewIdentityRegistry()
	rec := reg.Register(kp.Public, ScopeGuardian)

	if !reg.ResolveScope(rec.DID, ScopeGuardian) {
		t.Fatalf("expected guardian to resolve at its own scope")
	}
	if !reg.ResolveScope(rec.DID, ScopeFederation) {
		t.Fatalf("expected guardian to also resolve at federation scope")
	}
	if reg.ResolveScope(rec.DID, ScopeCooperative) {
		t.Fatalf("expected guardian not to resolve at cooperative scope")
	}
}

func TestResolveUnknownDID(t *testing.T) {
	reg := NewIdentityRegistry()
	_, err := reg.Resolve("did:icn:federation:deadbeef")
	if !KindNotFound.Is(err) {
		t.Fatalf("expected KindNotFound for unknown DID, got %v", err)
	}
}
