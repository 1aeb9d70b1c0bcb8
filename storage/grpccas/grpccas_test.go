package grpccas

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/localfs"
	"xdao.co/cadstore/storage/memstore"
	"xdao.co/cadstore/storage/testkit"
)

func serve(t *testing.T, backend storage.BlockStore) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterBlockStoreServer(srv, &Server{Store: backend})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	client, err := Dial("bufnet", DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPC_Conformance(t *testing.T) {
	testkit.RunBlockStoreConformance(t, func(t *testing.T) storage.BlockStore {
		return serve(t, memstore.New())
	})
}

func TestGRPC_LocalFS_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fsStore, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	client := serve(t, fsStore)

	payload := []byte("hello grpccas")
	key := testkit.Key(t, payload, cidutil.HashBLAKE2b256)
	if err := client.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := client.Has(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Has=%v,%v", ok, err)
	}
	got, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch")
	}
	// The server wrote to the same directory a local store would read.
	direct, err := fsStore.Get(ctx, key)
	if err != nil || string(direct) != string(payload) {
		t.Fatalf("direct Get=%q,%v", direct, err)
	}
}

func TestGRPC_CorruptionCrossesTheWire(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	client := serve(t, backend)

	data := []byte("will be tampered")
	key := testkit.Key(t, data, cidutil.HashSHA2_256)
	if err := client.Put(ctx, key, data); err != nil {
		t.Fatal(err)
	}
	backend.Tamper(key, []byte("was tampered...."))
	if _, err := client.Get(ctx, key); !storage.IsCorrupted(err) {
		t.Fatalf("Get err=%v want corruption", err)
	}
}
