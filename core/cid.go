package core

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// CID is a content identifier: a stable digest of canonically serialized
// content plus a codec tag and hash-algorithm tag (spec §3). It wraps the
// same ipfs/go-cid + multihash construction the teacher's storage.go already
// uses for its blob cache ("mh.Sum(data, mh.SHA2_256, -1)" +
// "cid.NewCidV1(cid.Raw, encodedMH)"), generalized into a reusable type
// instead of a one-off local variable.
type CID struct {
	inner cid.Cid
}

// rawCodec tags every artifact in this runtime as raw canonical bytes; the
// logical kind (DAG node, credential envelope, trust bundle) is carried in
// the artifact's own metadata, not in the CID codec tag.
const rawCodec = cid.Raw

// ComputeCID hashes canonical bytes into a CIDv1/SHA2-256/raw identifier.
// Two bytewise-equal canonical encodings always yield the same CID (spec
// §3 invariant); canonical encoding is responsible for semantic uniqueness.
func ComputeCID(canonicalBytes []byte) (CID, error) {
	digest, err := mh.Sum(canonicalBytes, mh.SHA2_256, -1)
	if err != nil {
		return CID{}, WrapError(KindCodec, "multihash sum failed", err)
	}
	return CID{inner: cid.NewCidV1(rawCodec, digest)}, nil
}

// ParseCID decodes a CID from its string form.
func ParseCID(s string) (CID, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return CID{}, WrapError(KindCodec, "invalid CID", err)
	}
	return CID{inner: c}, nil
}

func (c CID) String() string { return c.inner.String() }

func (c CID) Bytes() []byte { return c.inner.Bytes() }

func (c CID) IsZero() bool { return !c.inner.Defined() }

func (c CID) Equal(o CID) bool { return c.inner.Equals(o.inner) }

// MarshalText/UnmarshalText let CID participate in JSON encoding (config
// files, CLI output) as an opaque string. Canonical/RLP encoding does NOT go
// through these — rlp honors neither encoding.TextMarshaler nor unexported
// struct fields, so without EncodeRLP/DecodeRLP below every CID embedded in
// a Canonical()-encoded value would silently serialize to an empty list.
func (c CID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CID) UnmarshalText(b []byte) error {
	parsed, err := ParseCID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// EncodeRLP implements rlp.Encoder, the only hook go-ethereum's rlp package
// consults before falling back to reflection over exported fields — since
// CID's only field is unexported, without this method every CID collapses
// to an empty RLP list. The zero-value CID encodes as an empty byte string
// so it survives a round trip without needing a defined inner cid.Cid.
func (c CID) EncodeRLP(w io.Writer) error {
	if c.IsZero() {
		return rlp.Encode(w, []byte{})
	}
	return rlp.Encode(w, c.Bytes())
}

// DecodeRLP implements rlp.Decoder, the matching counterpart to EncodeRLP.
func (c *CID) DecodeRLP(s *rlp.Stream) error {
	var b []byte
	if err := s.Decode(&b); err != nil {
		return err
	}
	if len(b) == 0 {
		*c = CID{}
		return nil
	}
	parsed, err := cid.Cast(b)
	if err != nil {
		return WrapError(KindCodec, "invalid CID bytes in canonical encoding", err)
	}
	*c = CID{inner: parsed}
	return nil
}

func (c CID) GoString() string { return fmt.Sprintf("CID(%s)", c.String()) }
