package cidutil

import (
	"bytes"
	"fmt"

	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"xdao.co/cadstore/model"
)

// DigestSize is the length in bytes of every supported digest.
const DigestSize = 32

// HashTag is the closed set of hash functions a block may be addressed by.
// The zero value is invalid.
type HashTag uint8

const (
	HashSHA2_256 HashTag = iota + 1
	HashBLAKE2b256
	HashSHA3_256
	HashBLAKE3
)

// DefaultHash is used when no hash function is configured.
const DefaultHash = HashSHA2_256

// Code returns the multihash function code for h, or 0 if h is invalid.
func (h HashTag) Code() uint64 {
	switch h {
	case HashSHA2_256:
		return multihash.SHA2_256
	case HashBLAKE2b256:
		return multihash.BLAKE2B_MIN + DigestSize - 1
	case HashSHA3_256:
		return multihash.SHA3_256
	case HashBLAKE3:
		return multihash.BLAKE3
	default:
		return 0
	}
}

func (h HashTag) String() string {
	switch h {
	case HashSHA2_256:
		return "sha2-256"
	case HashBLAKE2b256:
		return "blake2b-256"
	case HashSHA3_256:
		return "sha3-256"
	case HashBLAKE3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

// Valid reports whether h is a member of the closed set.
func (h HashTag) Valid() bool { return h.Code() != 0 }

// ParseHashTag parses the multihash table name of a supported hash function.
func ParseHashTag(name string) (HashTag, error) {
	switch name {
	case "sha2-256":
		return HashSHA2_256, nil
	case "blake2b-256":
		return HashBLAKE2b256, nil
	case "sha3-256":
		return HashSHA3_256, nil
	case "blake3":
		return HashBLAKE3, nil
	default:
		return 0, fmt.Errorf("cidutil: unsupported hash function %q", name)
	}
}

// HashTagFromCode maps a multihash code back onto the closed set.
func HashTagFromCode(code uint64) (HashTag, bool) {
	for _, h := range []HashTag{HashSHA2_256, HashBLAKE2b256, HashSHA3_256, HashBLAKE3} {
		if h.Code() == code {
			return h, true
		}
	}
	return 0, false
}

// Sum computes the raw DigestSize-byte digest of data.
// It panics if h is not a valid HashTag.
func (h HashTag) Sum(data []byte) []byte {
	var d [DigestSize]byte
	switch h {
	case HashSHA2_256:
		d = sha256.Sum256(data)
	case HashBLAKE2b256:
		d = blake2b.Sum256(data)
	case HashSHA3_256:
		d = sha3.Sum256(data)
	case HashBLAKE3:
		d = blake3.Sum256(data)
	default:
		panic("cidutil: Sum on invalid HashTag " + h.String())
	}
	return d[:]
}

// Digest returns the multihash of data under h. This is the block store key.
func Digest(data []byte, h HashTag) (multihash.Multihash, error) {
	if !h.Valid() {
		return nil, model.Errorf(model.KindInvalidCID, "cidutil: unsupported hash tag %s", h)
	}
	mh, err := multihash.Encode(h.Sum(data), h.Code())
	if err != nil {
		return nil, model.Wrap(model.KindInternal, "cidutil: multihash encode", err)
	}
	return multihash.Multihash(mh), nil
}

// ParseKey decodes a multihash block key and reports its hash function.
// Keys outside the closed set fail with KindInvalidCID.
func ParseKey(key multihash.Multihash) (HashTag, []byte, error) {
	dec, err := multihash.Decode(key)
	if err != nil {
		return 0, nil, model.Wrap(model.KindInvalidCID, "cidutil: malformed multihash", err)
	}
	h, ok := HashTagFromCode(dec.Code)
	if !ok {
		return 0, nil, model.Errorf(model.KindInvalidCID, "cidutil: unsupported multihash code 0x%x", dec.Code)
	}
	if dec.Length != DigestSize || len(dec.Digest) != DigestSize {
		return 0, nil, model.Errorf(model.KindInvalidCID, "cidutil: digest length %d, want %d", dec.Length, DigestSize)
	}
	return h, dec.Digest, nil
}

// Verify reports whether data hashes to key. A malformed key is an error.
func Verify(key multihash.Multihash, data []byte) (bool, error) {
	h, digest, err := ParseKey(key)
	if err != nil {
		return false, err
	}
	return bytes.Equal(h.Sum(data), digest), nil
}
