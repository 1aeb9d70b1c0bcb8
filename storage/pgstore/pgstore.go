// Package pgstore keeps blocks in a PostgreSQL table.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
)

const defaultTable = "cadstore_blocks"

// Options configures Connect.
type Options struct {
	// Table defaults to "cadstore_blocks". It is interpolated into SQL and
	// must be a plain identifier.
	Table       string
	Compression blockcodec.Compression
	MaxConns    int32
}

// Store is a storage.BlockStore over a pgx pool. It is safe for
// concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	table       string
	compression blockcodec.Compression
}

var _ storage.BlockStore = (*Store)(nil)

// Connect opens a pool for dsn, pings the server and creates the block
// table if it does not exist.
func Connect(ctx context.Context, dsn string, opts Options) (*Store, error) {
	table := opts.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("pgstore: invalid table name %q", table)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, model.Wrap(model.KindIO, "pgstore: create pool", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, model.Wrap(model.KindIO, "pgstore: ping", err)
	}

	s := &Store{pool: pool, table: table, compression: opts.Compression}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key   BYTEA PRIMARY KEY,
			size  BIGINT NOT NULL,
			value BYTEA NOT NULL
		)`, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return model.Wrap(model.KindIO, "pgstore: create table", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
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
		return model.Wrap(model.KindInternal, "pgstore: encode", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, size, value) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, q, []byte(key), int64(len(data)), frame)
	if err != nil {
		return model.Wrap(model.KindIO, "pgstore: insert", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var size int64
	q = fmt.Sprintf(`SELECT size FROM %s WHERE key = $1`, s.table)
	if err := s.pool.QueryRow(ctx, q, []byte(key)).Scan(&size); err != nil {
		return model.Wrap(model.KindIO, "pgstore: read existing size", err)
	}
	if size != int64(len(data)) {
		return fmt.Errorf("%w: stored %d bytes, want %d", storage.ErrCorrupted, size, len(data))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	var frame []byte
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)
	err := s.pool.QueryRow(ctx, q, []byte(key)).Scan(&frame)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, model.Wrap(model.KindIO, "pgstore: select", err)
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
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, q, []byte(key)).Scan(&exists); err != nil {
		return false, model.Wrap(model.KindIO, "pgstore: exists", err)
	}
	return exists, nil
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, q, []byte(key)); err != nil {
		return model.Wrap(model.KindIO, "pgstore: delete", err)
	}
	return nil
}

func validIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
