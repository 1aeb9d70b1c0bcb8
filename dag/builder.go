package dag

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// BuilderOptions configures a Builder. The zero value is sha2-256 with
// DefaultFanout.
type BuilderOptions struct {
	// Hash addresses every block the builder writes. Zero means
	// cidutil.DefaultHash.
	Hash cidutil.HashTag
	// Fanout is the maximum number of links per internal node. Zero means
	// DefaultFanout.
	Fanout int
}

func (o BuilderOptions) withDefaults() BuilderOptions {
	if o.Hash == 0 {
		o.Hash = cidutil.DefaultHash
	}
	if o.Fanout == 0 {
		o.Fanout = DefaultFanout
	}
	return o
}

// Validate reports configuration errors.
func (o BuilderOptions) Validate() error {
	o = o.withDefaults()
	if !o.Hash.Valid() {
		return fmt.Errorf("dag: unsupported hash %s", o.Hash)
	}
	if o.Fanout < 2 || o.Fanout > MaxFanout {
		return fmt.Errorf("dag: fanout %d out of range [2, %d]", o.Fanout, MaxFanout)
	}
	return nil
}

// Root describes a finished DAG.
type Root struct {
	Cid  cid.Cid
	Size uint64
	// Blocks counts the blocks written for this DAG, leaves included.
	// Deduplicated blocks are counted each time they are referenced.
	Blocks int
	// Depth is 0 for a single-leaf DAG.
	Depth int
}

// Builder assembles a balanced DAG from chunks supplied in order. Leaves
// are stored as they arrive; internal nodes are stored by Finish, each
// before the parent that references it.
//
// A Builder is single-use and not safe for concurrent use.
type Builder struct {
	bs       storage.BlockStore
	opts     BuilderOptions
	leaves   []Link
	size     uint64
	finished bool
}

// NewBuilder returns a Builder writing to bs. Invalid options fail with
// KindInvalidInput.
func NewBuilder(bs storage.BlockStore, opts BuilderOptions) (*Builder, error) {
	if bs == nil {
		return nil, model.NewError(model.KindInternal, "dag: nil block store")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, model.Wrap(model.KindInvalidInput, "dag: invalid builder options", err)
	}
	return &Builder{bs: bs, opts: opts}, nil
}

// AddChunk stores chunk as a raw leaf and records its link.
func (b *Builder) AddChunk(ctx context.Context, chunk []byte) error {
	if b.finished {
		return model.NewError(model.KindInternal, "dag: AddChunk after Finish")
	}
	// Only a completely empty object has an empty leaf.
	if len(chunk) == 0 && len(b.leaves) > 0 {
		return nil
	}
	if len(b.leaves) == 1 && b.leaves[0].Size == 0 {
		b.leaves = b.leaves[:0]
	}
	c, err := b.put(ctx, chunk, cidutil.CodecRaw)
	if err != nil {
		return err
	}
	b.size += uint64(len(chunk))
	b.leaves = append(b.leaves, Link{Cid: c, Size: uint64(len(chunk)), Cum: b.size})
	return nil
}

// Finish groups links level by level until one root remains. With no
// chunks at all the root is the empty raw block.
func (b *Builder) Finish(ctx context.Context) (Root, error) {
	if b.finished {
		return Root{}, model.NewError(model.KindInternal, "dag: Finish called twice")
	}
	b.finished = true

	if len(b.leaves) == 0 {
		c, err := b.put(ctx, []byte{}, cidutil.CodecRaw)
		if err != nil {
			return Root{}, err
		}
		return Root{Cid: c, Size: 0, Blocks: 1}, nil
	}
	if len(b.leaves) == 1 && b.leaves[0].Size == 0 {
		return Root{Cid: b.leaves[0].Cid, Size: 0, Blocks: 1}, nil
	}

	blocks := len(b.leaves)
	depth := 0
	level := b.leaves
	for len(level) > 1 {
		groups := (len(level) + b.opts.Fanout - 1) / b.opts.Fanout
		base, extra := len(level)/groups, len(level)%groups
		next := make([]Link, 0, groups)
		off := 0
		for g := 0; g < groups; g++ {
			n := base
			if g < extra {
				n++
			}
			node := NewNode(level[off : off+n])
			off += n
			data, err := node.Encode()
			if err != nil {
				return Root{}, err
			}
			c, err := b.put(ctx, data, cidutil.CodecDagCBOR)
			if err != nil {
				return Root{}, err
			}
			next = append(next, Link{Cid: c, Size: node.Size})
			blocks++
		}
		level = next
		depth++
	}
	b.leaves = nil
	return Root{Cid: level[0].Cid, Size: level[0].Size, Blocks: blocks, Depth: depth}, nil
}

func (b *Builder) put(ctx context.Context, data []byte, codec cidutil.CodecTag) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	key, err := cidutil.Digest(data, b.opts.Hash)
	if err != nil {
		return cid.Undef, err
	}
	if err := b.bs.Put(ctx, key, data); err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec.Code(), key), nil
}
