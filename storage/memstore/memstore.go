// Package memstore is an in-memory BlockStore for tests and ephemeral
// daemons. Nothing survives process exit.
package memstore

import (
	"context"
	"sync"

	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/storage"
)

type Store struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

var _ storage.BlockStore = (*Store)(nil)

func New() *Store {
	return &Store{blocks: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckPut(key, data); err != nil {
		return err
	}
	k := string(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blocks[k]; ok {
		if len(existing) != len(data) {
			return storage.ErrCorrupted
		}
		return nil
	}
	s.blocks[k] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.blocks[string(key)]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := storage.VerifyBlock(key, b); err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (s *Store) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.blocks[string(key)]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.blocks, string(key))
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored blocks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Tamper overwrites the stored bytes for key without verification.
// Tests use it to simulate on-disk corruption.
func (s *Store) Tamper(key multihash.Multihash, data []byte) {
	s.mu.Lock()
	s.blocks[string(key)] = append([]byte(nil), data...)
	s.mu.Unlock()
}
