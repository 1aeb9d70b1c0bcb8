package storage

import (
	"context"
	"fmt"

	"github.com/multiformats/go-multihash"
)

// NamedStore associates a BlockStore with a stable backend name.
//
// This is used for multi-backend orchestration where callers need to retain
// per-backend metadata (e.g., for reporting).
type NamedStore struct {
	Name  string
	Store BlockStore
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order. A write succeeds only when every backend
// accepted it; use PutAll for the per-backend outcome.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ BlockStore = ReplicatingStore{}

// PutAll writes the same block to all backends in order and returns the
// names of those that accepted it. It stops at the first failure.
func (r ReplicatingStore) PutAll(ctx context.Context, key multihash.Multihash, data []byte) ([]string, error) {
	if len(r.Backends) == 0 {
		return nil, fmt.Errorf("storage: ReplicatingStore has no backends")
	}
	if err := CheckPut(key, data); err != nil {
		return nil, err
	}
	written := make([]string, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return written, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := b.Store.Put(ctx, key, data); err != nil {
			return written, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		written = append(written, b.Name)
	}
	return written, nil
}

func (r ReplicatingStore) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	_, err := r.PutAll(ctx, key, data)
	return err
}

func (r ReplicatingStore) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	return MultiStore{Stores: r.stores()}.Get(ctx, key)
}

func (r ReplicatingStore) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	return MultiStore{Stores: r.stores()}.Has(ctx, key)
}

func (r ReplicatingStore) Delete(ctx context.Context, key multihash.Multihash) error {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		if err := b.Store.Delete(ctx, key); err != nil {
			return fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
	}
	return nil
}

func (r ReplicatingStore) stores() []BlockStore {
	out := make([]BlockStore, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store != nil {
			out = append(out, b.Store)
		}
	}
	return out
}
