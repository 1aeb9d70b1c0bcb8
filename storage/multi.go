package storage

import (
	"context"
	"errors"

	"github.com/multiformats/go-multihash"
)

// MultiStore provides deterministic, ordered fallback across several block
// stores.
//
// Read order is the slice order in Stores; callers MUST supply a fixed order.
// Put writes only to the first store. Delete removes from every store.
type MultiStore struct {
	Stores []BlockStore
}

var _ BlockStore = MultiStore{}

func (m MultiStore) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if len(m.Stores) == 0 {
		return errors.New("storage: MultiStore has no stores")
	}
	return m.Stores[0].Put(ctx, key, data)
}

// Get returns the first hit. A NotFound from one store moves on to the
// next; any other error, corruption included, stops the search.
func (m MultiStore) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if _, err := CheckKey(key); err != nil {
		return nil, err
	}
	for _, s := range m.Stores {
		b, err := s.Get(ctx, key)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m MultiStore) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if _, err := CheckKey(key); err != nil {
		return false, err
	}
	for _, s := range m.Stores {
		ok, err := s.Has(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m MultiStore) Delete(ctx context.Context, key multihash.Multihash) error {
	for _, s := range m.Stores {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
