package cidutil

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/model"
)

// CodecTag is the closed set of block encodings. Leaves are raw chunk
// bytes; internal DAG nodes are DAG-CBOR.
type CodecTag uint8

const (
	CodecRaw CodecTag = iota + 1
	CodecDagCBOR
)

// Code returns the multicodec code for c, or 0 if c is invalid.
func (c CodecTag) Code() uint64 {
	switch c {
	case CodecRaw:
		return cid.Raw
	case CodecDagCBOR:
		return cid.DagCBOR
	default:
		return 0
	}
}

func (c CodecTag) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecDagCBOR:
		return "dag-cbor"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is a member of the closed set.
func (c CodecTag) Valid() bool { return c.Code() != 0 }

// CodecTagFromCode maps a multicodec code back onto the closed set.
func CodecTagFromCode(code uint64) (CodecTag, bool) {
	switch code {
	case cid.Raw:
		return CodecRaw, true
	case cid.DagCBOR:
		return CodecDagCBOR, true
	default:
		return 0, false
	}
}

// Decoded is a CID split into its components.
type Decoded struct {
	Cid    cid.Cid
	Digest []byte
	Codec  CodecTag
	Hash   HashTag
}

// New builds a CIDv1 from a raw digest.
func New(digest []byte, codec CodecTag, hash HashTag) (cid.Cid, error) {
	if !codec.Valid() {
		return cid.Undef, model.Errorf(model.KindInvalidCID, "cidutil: unsupported codec %s", codec)
	}
	if !hash.Valid() {
		return cid.Undef, model.Errorf(model.KindInvalidCID, "cidutil: unsupported hash %s", hash)
	}
	if len(digest) != DigestSize {
		return cid.Undef, model.Errorf(model.KindInvalidCID, "cidutil: digest length %d, want %d", len(digest), DigestSize)
	}
	mh, err := multihash.Encode(digest, hash.Code())
	if err != nil {
		return cid.Undef, model.Wrap(model.KindInvalidCID, "cidutil: multihash encode", err)
	}
	return cid.NewCidV1(codec.Code(), mh), nil
}

// Encode returns the canonical string form: CIDv1, base32, lowercase.
func Encode(digest []byte, codec CodecTag, hash HashTag) (string, error) {
	c, err := New(digest, codec, hash)
	if err != nil {
		return "", err
	}
	return String(c), nil
}

// String renders c canonically. go-cid already emits lowercase base32 for
// v1; the explicit lowering keeps comparison safe for any caller-built CID.
func String(c cid.Cid) string {
	return strings.ToLower(c.String())
}

// Of computes the CID of data under the given codec and hash.
func Of(data []byte, codec CodecTag, hash HashTag) (cid.Cid, error) {
	if !hash.Valid() {
		return cid.Undef, model.Errorf(model.KindInvalidCID, "cidutil: unsupported hash %s", hash)
	}
	return New(hash.Sum(data), codec, hash)
}

// Decode parses a CID string. Input is case-insensitive, so only the
// case-insensitive multibases are accepted: base32 (canonical), base16 and
// base36. The CID must be v1 with a supported codec and hash. Any other
// input fails with KindInvalidCID and a zero Decoded.
func Decode(s string) (Decoded, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Decoded{}, model.NewError(model.KindInvalidCID, "cidutil: empty cid")
	}
	switch s[0] {
	case 'b', 'f', 'k':
	default:
		return Decoded{}, model.Errorf(model.KindInvalidCID, "cidutil: unsupported multibase prefix %q", s[:1])
	}
	c, err := cid.Decode(s)
	if err != nil {
		return Decoded{}, model.Wrap(model.KindInvalidCID, "cidutil: malformed cid", err)
	}
	return Classify(c)
}

// Parse is Decode returning only the CID.
func Parse(s string) (cid.Cid, error) {
	d, err := Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	return d.Cid, nil
}

// Classify validates an already-parsed CID against the closed codec/hash
// variant and splits it into components.
func Classify(c cid.Cid) (Decoded, error) {
	if !c.Defined() {
		return Decoded{}, model.NewError(model.KindInvalidCID, "cidutil: undefined cid")
	}
	if c.Version() != 1 {
		return Decoded{}, model.Errorf(model.KindInvalidCID, "cidutil: cid version %d not supported", c.Version())
	}
	codec, ok := CodecTagFromCode(c.Type())
	if !ok {
		return Decoded{}, model.Errorf(model.KindInvalidCID, "cidutil: unsupported codec 0x%x", c.Type())
	}
	hash, digest, err := ParseKey(c.Hash())
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Cid: c, Digest: digest, Codec: codec, Hash: hash}, nil
}

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	c, err := Of(data, CodecRaw, HashSHA2_256)
	if err != nil {
		// Unreachable with a fixed, valid codec and hash.
		return ""
	}
	return String(c)
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	return Of(data, CodecRaw, HashSHA2_256)
}
