package storage

import (
	"context"
	"fmt"

	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/cidutil"
)

// BlockStore is a content-addressed block store keyed by multihash.
//
// Contract:
//   - Put MUST be idempotent and MUST reject data that does not hash to key.
//   - Stored blocks MUST be immutable: an existing entry is never rewritten.
//   - Get MUST return ErrNotFound when the key is absent, and MUST NOT return
//     bytes that fail to hash to key (ErrCorrupted instead).
//   - Has MUST be side-effect free.
//   - Delete MUST be idempotent. It exists for maintenance only.
//   - Malformed or unsupported keys fail with ErrInvalidKey.
//
// Keys are multihashes rather than CIDs so that identical bytes stored
// under different codecs share one entry.
type BlockStore interface {
	Put(ctx context.Context, key multihash.Multihash, data []byte) error
	Get(ctx context.Context, key multihash.Multihash) ([]byte, error)
	Has(ctx context.Context, key multihash.Multihash) (bool, error)
	Delete(ctx context.Context, key multihash.Multihash) error
}

// CheckKey validates key against the supported hash functions.
func CheckKey(key multihash.Multihash) (cidutil.HashTag, error) {
	h, _, err := cidutil.ParseKey(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return h, nil
}

// CheckPut validates a Put request: the key must be well formed and data
// must hash to it.
func CheckPut(key multihash.Multihash, data []byte) error {
	if _, err := CheckKey(key); err != nil {
		return err
	}
	ok, err := cidutil.Verify(key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, KeyString(key))
	}
	return nil
}

// VerifyBlock re-hashes data read back from a backend and reports
// ErrCorrupted when it no longer matches key.
func VerifyBlock(key multihash.Multihash, data []byte) error {
	ok, err := cidutil.Verify(key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCorrupted, KeyString(key))
	}
	return nil
}
