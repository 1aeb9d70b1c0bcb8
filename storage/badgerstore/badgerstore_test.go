package badgerstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
	"xdao.co/cadstore/storage/testkit"
)

func openTemp(t *testing.T, c blockcodec.Compression) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir(), Compression: c})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadger_Conformance(t *testing.T) {
	for _, c := range []blockcodec.Compression{blockcodec.None, blockcodec.LZ4, blockcodec.Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			testkit.RunBlockStoreConformance(t, func(t *testing.T) storage.BlockStore {
				return openTemp(t, c)
			})
		})
	}
}

func TestBadger_InMemory(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	data := bytes.Repeat([]byte("compressible "), 100)
	key := testkit.Key(t, data, cidutil.HashSHA3_256)
	if err := s.Put(context.Background(), key, data); err != nil {
		t.Fatal(err)
	}
	n, err := s.Len()
	if err != nil || n != 1 {
		t.Fatalf("Len=%d,%v", n, err)
	}
}

func TestBadger_TamperDetected(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, blockcodec.None)
	data := []byte("stored once")
	key := testkit.Key(t, data, cidutil.HashSHA2_256)
	if err := s.Put(ctx, key, data); err != nil {
		t.Fatal(err)
	}
	bad, err := blockcodec.Encode([]byte("stored twice"), blockcodec.None)
	if err != nil {
		t.Fatal(err)
	}
	err = s.db.Update(func(txn *badger.Txn) error { return txn.Set(dbKey(key), bad) })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, key); !storage.IsCorrupted(err) {
		t.Fatalf("Get err=%v want corruption", err)
	}
	if err := s.Put(ctx, key, data); !storage.IsCorrupted(err) {
		t.Fatalf("Put over different-length entry err=%v want corruption", err)
	}
}

func TestBadger_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("persisted")
	key := testkit.Key(t, data, cidutil.HashSHA2_256)
	if err := s.Put(ctx, key, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, key)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Get after reopen=%q,%v", got, err)
	}
}

func TestBadger_RunGC(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, blockcodec.None)
	data := bytes.Repeat([]byte("gc "), 64)
	key := testkit.Key(t, data, cidutil.HashSHA2_256)
	if err := s.Put(ctx, key, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	// Nothing worth rewriting yet; that is not an error.
	if err := s.RunGC(0.5); err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if err := s.RunGC(1.5); err == nil {
		t.Fatalf("RunGC accepted an out-of-range ratio")
	}
}
