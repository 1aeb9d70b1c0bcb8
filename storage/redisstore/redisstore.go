// Package redisstore keeps blocks in Redis as framed values with no expiry.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/multiformats/go-multihash"
	"github.com/redis/go-redis/v9"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
)

const defaultPrefix = "cadstore:blk:"

// Options configures New and Dial.
type Options struct {
	// Prefix namespaces keys; defaults to "cadstore:blk:".
	Prefix      string
	Compression blockcodec.Compression
}

// Store is a storage.BlockStore over a go-redis client.
type Store struct {
	rdb         *redis.Client
	prefix      string
	compression blockcodec.Compression
}

var _ storage.BlockStore = (*Store)(nil)

// New wraps an existing client. The caller owns the client.
func New(rdb *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, compression: opts.Compression}
}

// Dial connects to url (redis://...) and pings the server.
func Dial(ctx context.Context, url string, opts Options) (*Store, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, model.Wrap(model.KindIO, "redisstore: ping", err)
	}
	return New(rdb, opts), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) redisKey(key multihash.Multihash) string {
	return s.prefix + storage.KeyString(key)
}

func (s *Store) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckPut(key, data); err != nil {
		return err
	}
	frame, err := blockcodec.Encode(data, s.compression)
	if err != nil {
		return model.Wrap(model.KindInternal, "redisstore: encode", err)
	}
	k := s.redisKey(key)
	created, err := s.rdb.SetNX(ctx, k, frame, 0).Result()
	if err != nil {
		return model.Wrap(model.KindIO, "redisstore: setnx", err)
	}
	if created {
		return nil
	}
	existing, err := s.rdb.Get(ctx, k).Bytes()
	if err != nil {
		return model.Wrap(model.KindIO, "redisstore: get existing", err)
	}
	n, err := blockcodec.DecodedLen(existing)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: stored %d bytes, want %d", storage.ErrCorrupted, n, len(data))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	frame, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, model.Wrap(model.KindIO, "redisstore: get", err)
	}
	data, err := blockcodec.Decode(frame)
	if err != nil {
		return nil, err
	}
	if err := storage.VerifyBlock(key, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	n, err := s.rdb.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, model.Wrap(model.KindIO, "redisstore: exists", err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return model.Wrap(model.KindIO, "redisstore: del", err)
	}
	return nil
}
