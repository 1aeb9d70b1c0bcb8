// Package dagstore is the add/cat facade over a block store: it chunks
// input, assembles a DAG and serves the bytes back by root CID.
package dagstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/chunker"
	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dag"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// Options configures a Store. The zero value is fixed-size 256 KiB
// chunks, sha2-256 and fan-out 174.
type Options struct {
	Chunker      chunker.Strategy
	MaxChunkSize int
	Hash         cidutil.HashTag
	Fanout       int
	Logger       *slog.Logger
	// OnAdd, if set, is called with every root CID returned by AddBytes.
	OnAdd func(cid.Cid)
}

// Store is safe for concurrent use; the block store is the only shared
// state.
type Store struct {
	bs    storage.BlockStore
	chunk chunker.Options
	build dag.BuilderOptions
	log   *slog.Logger
	onAdd func(cid.Cid)
}

// New wraps bs. Options are validated up front; bad ones fail with
// KindInvalidInput.
func New(bs storage.BlockStore, opts Options) (*Store, error) {
	if bs == nil {
		return nil, model.NewError(model.KindInternal, "dagstore: nil block store")
	}
	co := chunker.Options{Strategy: opts.Chunker, MaxChunkSize: opts.MaxChunkSize}
	if err := co.Validate(); err != nil {
		return nil, model.Wrap(model.KindInvalidInput, "dagstore: invalid chunker options", err)
	}
	bo := dag.BuilderOptions{Hash: opts.Hash, Fanout: opts.Fanout}
	if err := bo.Validate(); err != nil {
		return nil, model.Wrap(model.KindInvalidInput, "dagstore: invalid dag options", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{bs: bs, chunk: co, build: bo, log: log, onAdd: opts.OnAdd}, nil
}

// BlockStore returns the underlying block store.
func (s *Store) BlockStore() storage.BlockStore { return s.bs }

// AddBytes stores everything read from r and returns the root CID.
//
// On error no CID is returned; blocks already persisted stay as orphans.
// Empty input yields the CID of the empty raw block.
func (s *Store) AddBytes(ctx context.Context, r io.Reader) (cid.Cid, error) {
	root, err := s.Add(ctx, r)
	if err != nil {
		return cid.Undef, err
	}
	return root.Cid, nil
}

// Add is AddBytes returning the full DAG description.
func (s *Store) Add(ctx context.Context, r io.Reader) (dag.Root, error) {
	c, err := chunker.New(r, s.chunk)
	if err != nil {
		return dag.Root{}, err
	}
	b, err := dag.NewBuilder(s.bs, s.build)
	if err != nil {
		return dag.Root{}, err
	}
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dag.Root{}, err
		}
		if err := b.AddChunk(ctx, chunk); err != nil {
			return dag.Root{}, err
		}
	}
	root, err := b.Finish(ctx)
	if err != nil {
		return dag.Root{}, err
	}
	s.log.Debug("dagstore: added", "cid", root.Cid.String(), "size", root.Size, "blocks", root.Blocks, "depth", root.Depth)
	if s.onAdd != nil {
		s.onAdd(root.Cid)
	}
	return root, nil
}

// Cat opens the object rooted at c. Unknown or malformed roots fail here;
// a block that goes missing or fails verification later surfaces as a
// Read error.
func (s *Store) Cat(ctx context.Context, c cid.Cid) (io.ReadSeekCloser, error) {
	r, err := dag.NewReader(ctx, s.bs, c)
	if err != nil {
		return nil, err
	}
	s.log.Debug("dagstore: cat", "cid", c.String(), "size", r.Size())
	return r, nil
}

// CatString decodes s and calls Cat.
func (s *Store) CatString(ctx context.Context, str string) (io.ReadSeekCloser, error) {
	c, err := cidutil.Parse(str)
	if err != nil {
		return nil, err
	}
	return s.Cat(ctx, c)
}

// CatRange returns length bytes starting at offset. A negative length
// reads to the end. Ranges past the end are truncated.
func (s *Store) CatRange(ctx context.Context, c cid.Cid, offset, length int64) ([]byte, error) {
	if offset < 0 {
		return nil, model.Errorf(model.KindInvalidInput, "dagstore: negative offset %d", offset)
	}
	r, err := dag.NewReader(ctx, s.bs, c)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	var src io.Reader = r
	if length >= 0 {
		src = io.LimitReader(r, length)
	}
	return io.ReadAll(src)
}

// Has reports whether the root block of c is present. It does not check
// the rest of the DAG.
func (s *Store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if _, err := cidutil.Classify(c); err != nil {
		return false, err
	}
	return s.bs.Has(ctx, c.Hash())
}

// Stat summarizes a stored object without reading its leaves.
type Stat struct {
	CID   string `json:"cid"`
	Codec string `json:"codec"`
	Hash  string `json:"hash"`
	Size  uint64 `json:"size"`
	// Links is the number of links in the root block.
	Links int `json:"links"`
	// Blocks counts every block reachable from the root.
	Blocks int `json:"blocks"`
	Depth  int `json:"depth"`
}

// Stat describes the DAG rooted at c. Only structural blocks are read.
func (s *Store) Stat(ctx context.Context, c cid.Cid) (Stat, error) {
	d, err := cidutil.Classify(c)
	if err != nil {
		return Stat{}, err
	}
	st := Stat{CID: cidutil.String(c), Codec: d.Codec.String(), Hash: d.Hash.String()}
	err = dag.Walk(ctx, s.bs, c, dag.WalkOptions{SkipLeaves: true}, func(b dag.Block) error {
		if b.Depth == 0 {
			st.Size = b.Size
			if b.Node != nil {
				st.Links = len(b.Node.Links)
			}
		}
		if b.Depth > st.Depth {
			st.Depth = b.Depth
		}
		st.Blocks++
		return nil
	})
	if err != nil {
		return Stat{}, fmt.Errorf("dagstore: stat %s: %w", c, err)
	}
	return st, nil
}
