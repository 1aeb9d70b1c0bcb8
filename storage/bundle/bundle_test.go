package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/chunker"
	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dag"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/bundle"
	"xdao.co/cadstore/storage/localfs"
	"xdao.co/cadstore/storage/memstore"
)

func addBytes(t *testing.T, bs storage.BlockStore, data []byte, chunkSize int) dag.Root {
	t.Helper()
	ctx := context.Background()
	chunks, err := chunker.All(bytes.NewReader(data), chunker.Options{MaxChunkSize: chunkSize})
	if err != nil {
		t.Fatal(err)
	}
	b, err := dag.NewBuilder(bs, dag.BuilderOptions{Fanout: 3})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chunks {
		if err := b.AddChunk(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	root, err := b.Finish(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestBundle_ExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	r1 := addBytes(t, cas, []byte("hello"), 1024)
	r2 := addBytes(t, cas, []byte("hello world, chunked small"), 4)

	var outA bytes.Buffer
	if err := bundle.Export(ctx, &outA, cas, []cid.Cid{r2.Cid, r1.Cid}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(ctx, &outB, cas, []cid.Cid{r1.Cid, r2.Cid}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
}

func TestBundle_ImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()

	payload := make([]byte, 10_000)
	rand.New(rand.NewSource(7)).Read(payload)
	root := addBytes(t, src, payload, 512)
	if root.Depth < 2 {
		t.Fatalf("expected a multi-level dag, got depth %d", root.Depth)
	}

	var buf bytes.Buffer
	if err := bundle.Export(ctx, &buf, src, []cid.Cid{root.Cid}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	dst, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	res, err := bundle.ImportWithOptions(ctx, bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{VerifyRoots: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocks != root.Blocks {
		t.Fatalf("imported %d blocks, want %d", res.Blocks, root.Blocks)
	}
	if len(res.Roots) != 1 || !res.Roots[0].Equals(root.Cid) {
		t.Fatalf("roots=%v want [%s]", res.Roots, root.Cid)
	}

	r, err := dag.NewReader(ctx, dst, root.Cid)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestBundle_ImportRejectsMismatch(t *testing.T) {
	payload := []byte("payload")
	id := cidutil.CIDv1RawSHA256(payload)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     "blocks/" + id,
		Mode:     0o644,
		Size:     int64(len([]byte("different"))),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("different")); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	dst := memstore.New()
	_, err := bundle.Import(context.Background(), bytes.NewReader(buf.Bytes()), dst)
	if !storage.IsCorrupted(err) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("mismatched block was stored")
	}
}

func TestBundle_ImportRejectsUnknownEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "notes.txt", Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := bundle.Import(ctx, bytes.NewReader(buf.Bytes()), memstore.New()); err == nil {
		t.Fatalf("expected unknown entry to be rejected")
	}
	if _, err := bundle.ImportWithOptions(ctx, bytes.NewReader(buf.Bytes()), memstore.New(), bundle.ImportOptions{IgnoreUnknown: true}); err != nil {
		t.Fatalf("IgnoreUnknown: %v", err)
	}
}

func TestBundle_ExportMissingBlock(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	root := addBytes(t, src, []byte("abcdefghijklmnop"), 2)

	// Drop one leaf.
	leaf, err := cidutil.CIDv1RawSHA256CID([]byte("ab"))
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Delete(ctx, leaf.Hash()); err != nil {
		t.Fatal(err)
	}

	err = bundle.Export(ctx, io.Discard, src, []cid.Cid{root.Cid}, bundle.ExportOptions{})
	if !storage.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
