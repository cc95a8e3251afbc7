package core

import "crypto/ed25519"

// CredentialEnvelope wraps an ExecutionReceipt with the issuer's signature
// over its canonical bytes, turning an internal execution record into a
// portable, independently verifiable credential other nodes can accept
// without re-running the execution themselves.
type CredentialEnvelope struct {
	Receipt   ExecutionReceipt
	Issuer    DID
	Signature []byte
}

// CredentialIssuer signs receipts on behalf of one DID (typically a node's
// own identity), producing the envelopes that get anchored and gossiped.
type CredentialIssuer struct {
	DID     DID
	KeyPair KeyPair
}

// NewCredentialIssuer builds an issuer bound to kp, registered under did.
func NewCredentialIssuer(did DID, kp KeyPair) *CredentialIssuer {
	return &CredentialIssuer{DID: did, KeyPair: kp}
}

// IssueExecutionReceipt signs receipt and wraps it in a CredentialEnvelope.
func (ci *CredentialIssuer) IssueExecutionReceipt(receipt ExecutionReceipt) (CredentialEnvelope, error) {
	msg, err := Canonical(receipt)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	return CredentialEnvelope{
		Receipt:   receipt,
		Issuer:    ci.DID,
		Signature: ci.KeyPair.Sign(msg),
	}, nil
}

// VerifyCredentialEnvelope checks that env.Signature is a valid signature by
// pub over env.Receipt's canonical bytes.
func VerifyCredentialEnvelope(env CredentialEnvelope, pub ed25519.PublicKey) error {
	msg, err := Canonical(env.Receipt)
	if err != nil {
		return err
	}
	if !VerifySignature(pub, msg, env.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
