package core

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// Canonical produces the deterministic byte encoding used for every signed
// and CID-hashed artifact (spec §6). RLP already has the properties the
// spec requires — sorted/order-preserving lists, minimal-width integers, no
// ambiguous re-encodings — so it is used directly rather than hand-rolling a
// canonical JSON, following the teacher's ledger.go which already reaches
// for "github.com/ethereum/go-ethereum/rlp" for deterministic encoding.
func Canonical(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, WrapError(KindCodec, "canonical encode failed", err)
	}
	return b, nil
}

// DecodeCanonical reverses Canonical into dst (a pointer).
func DecodeCanonical(b []byte, dst interface{}) error {
	if err := rlp.DecodeBytes(b, dst); err != nil {
		return WrapError(KindCodec, "canonical decode failed", err)
	}
	return nil
}
