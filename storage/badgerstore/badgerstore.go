// Package badgerstore keeps blocks in an embedded Badger database.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
)

var keyPrefix = []byte("blk/")

// Options configures Open.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// SyncWrites fsyncs the value log on every commit.
	SyncWrites  bool
	Compression blockcodec.Compression
	Logger      *slog.Logger
}

// Store is a storage.BlockStore over one Badger database. Close releases
// the directory lock.
type Store struct {
	db          *badger.DB
	compression blockcodec.Compression
}

var _ storage.BlockStore = (*Store)(nil)

// Open opens or creates the database described by opts.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: directory is required")
	}
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		bo = bo.WithLogger(slogAdapter{l: opts.Logger.With("component", "badger")})
	} else {
		bo = bo.WithLogger(nil)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, model.Wrap(model.KindIO, "badgerstore: open", err)
	}
	return &Store{db: db, compression: opts.Compression}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func dbKey(key multihash.Multihash) []byte {
	out := make([]byte, 0, len(keyPrefix)+len(key))
	out = append(out, keyPrefix...)
	return append(out, key...)
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
		return model.Wrap(model.KindInternal, "badgerstore: encode", err)
	}
	k := dbKey(key)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == nil {
			return checkExisting(item, len(data))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, frame)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another writer committed the same key first.
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if err != nil {
				return model.Wrap(model.KindIO, "badgerstore: put", err)
			}
			return checkExisting(item, len(data))
		})
	}
	if err != nil {
		if model.IsKind(err, model.KindCorruption) {
			return err
		}
		return model.Wrap(model.KindIO, "badgerstore: put", err)
	}
	return nil
}

func checkExisting(item *badger.Item, want int) error {
	return item.Value(func(v []byte) error {
		n, err := blockcodec.DecodedLen(v)
		if err != nil {
			return err
		}
		if n != want {
			return fmt.Errorf("%w: stored %d bytes, want %d", storage.ErrCorrupted, n, want)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	var frame []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, model.Wrap(model.KindIO, "badgerstore: get", err)
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
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, model.Wrap(model.KindIO, "badgerstore: has", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
	if err != nil {
		return model.Wrap(model.KindIO, "badgerstore: delete", err)
	}
	return nil
}

// Len counts stored blocks with a key-only scan.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RunGC reclaims value log space. Badger returns ErrNoRewrite when there
// was nothing to collect; that is not an error here.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// slogAdapter routes badger's printf-style logger into slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Errorf(f string, v ...interface{}) {
	a.l.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (a slogAdapter) Warningf(f string, v ...interface{}) {
	a.l.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (a slogAdapter) Infof(f string, v ...interface{}) {
	a.l.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (a slogAdapter) Debugf(f string, v ...interface{}) {
	a.l.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
