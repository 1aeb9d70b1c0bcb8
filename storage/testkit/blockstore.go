// Package testkit holds the conformance suite every storage backend runs.
package testkit

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// NewStore constructs a fresh, empty BlockStore for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.BlockStore

// Key returns the block key of data under h, failing the test on error.
func Key(t testing.TB, data []byte, h cidutil.HashTag) multihash.Multihash {
	t.Helper()
	key, err := cidutil.Digest(data, h)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return key
}

func RunBlockStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		for _, h := range []cidutil.HashTag{cidutil.HashSHA2_256, cidutil.HashBLAKE2b256, cidutil.HashSHA3_256, cidutil.HashBLAKE3} {
			want := []byte("hello, block store / " + h.String())
			key := Key(t, want, h)
			if err := s.Put(ctx, key, want); err != nil {
				t.Fatalf("%s: Put failed: %v", h, err)
			}
			got, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("%s: Get failed: %v", h, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("%s: Get bytes mismatch", h)
			}
		}
	})

	t.Run("EmptyBlock", func(t *testing.T) {
		s := newStore(t)
		key := Key(t, nil, cidutil.HashSHA2_256)
		if err := s.Put(ctx, key, []byte{}); err != nil {
			t.Fatalf("Put(empty) failed: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(empty) failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("Get(empty) returned %d bytes", len(got))
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		b := []byte("same bytes")
		key := Key(t, b, cidutil.HashSHA2_256)
		for i := 0; i < 3; i++ {
			if err := s.Put(ctx, key, b); err != nil {
				t.Fatalf("Put(%d) failed: %v", i, err)
			}
		}
		got, err := s.Get(ctx, key)
		if err != nil || !bytes.Equal(got, b) {
			t.Fatalf("Get after repeated Put: %v", err)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		s := newStore(t)
		b := []byte("missing")
		key := Key(t, b, cidutil.HashSHA2_256)

		ok, err := s.Has(ctx, key)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if ok {
			t.Fatalf("Has returned true for missing key")
		}
		_, err = s.Get(ctx, key)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if err := s.Put(ctx, key, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ok, err = s.Has(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Has after Put = %v, %v", ok, err)
		}
	})

	t.Run("RejectMalformedKey", func(t *testing.T) {
		s := newStore(t)
		bad := multihash.Multihash{0x12, 0x02, 0xaa}
		if _, err := s.Get(ctx, bad); !model.IsKind(err, model.KindInvalidCID) {
			t.Fatalf("Get(bad key) err=%v want KindInvalidCID", err)
		}
		if _, err := s.Has(ctx, bad); !model.IsKind(err, model.KindInvalidCID) {
			t.Fatalf("Has(bad key) err=%v want KindInvalidCID", err)
		}
		if err := s.Put(ctx, bad, []byte("x")); err == nil {
			t.Fatalf("Put(bad key) should fail")
		}
	})

	t.Run("RejectMismatchedData", func(t *testing.T) {
		s := newStore(t)
		key := Key(t, []byte("one"), cidutil.HashSHA2_256)
		err := s.Put(ctx, key, []byte("two"))
		if !model.IsKind(err, model.KindInvalidInput) {
			t.Fatalf("Put(mismatch) err=%v want KindInvalidInput", err)
		}
		ok, err := s.Has(ctx, key)
		if err != nil || ok {
			t.Fatalf("mismatched Put must not store anything: has=%v err=%v", ok, err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		b := []byte("to be deleted")
		key := Key(t, b, cidutil.HashSHA2_256)
		if err := s.Put(ctx, key, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, key); !storage.IsNotFound(err) {
			t.Fatalf("Get after Delete: err=%v", err)
		}
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		s := newStore(t)
		shared := []byte("raced by everyone")
		sharedKey := Key(t, shared, cidutil.HashSHA2_256)
		var g errgroup.Group
		for i := 0; i < 32; i++ {
			i := i
			g.Go(func() error {
				if err := s.Put(ctx, sharedKey, shared); err != nil {
					return err
				}
				own := []byte(fmt.Sprintf("block %d", i))
				return s.Put(ctx, Key(t, own, cidutil.HashSHA2_256), own)
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent Put failed: %v", err)
		}
		got, err := s.Get(ctx, sharedKey)
		if err != nil || !bytes.Equal(got, shared) {
			t.Fatalf("Get shared: %v", err)
		}
		for i := 0; i < 32; i++ {
			own := []byte(fmt.Sprintf("block %d", i))
			ok, err := s.Has(ctx, Key(t, own, cidutil.HashSHA2_256))
			if err != nil || !ok {
				t.Fatalf("block %d missing after concurrent Put: %v", i, err)
			}
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		b := []byte("never written")
		if err := s.Put(cctx, Key(t, b, cidutil.HashSHA2_256), b); err == nil {
			t.Fatalf("Put with canceled context should fail")
		}
	})
}
