package storage

import (
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/cidutil"
)

// KeyString renders a block key as lowercase unpadded base32 without a
// multibase prefix. It is safe for file names and KV keys.
func KeyString(key multihash.Multihash) string {
	s, err := multibase.Encode(multibase.Base32, key)
	if err != nil || len(s) < 1 {
		return ""
	}
	return s[1:]
}

// ParseKeyString is the inverse of KeyString.
func ParseKeyString(s string) (multihash.Multihash, error) {
	enc, b, err := multibase.Decode("b" + s)
	if err != nil || enc != multibase.Base32 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	key := multihash.Multihash(b)
	if _, _, err := cidutil.ParseKey(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}
