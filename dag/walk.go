package dag

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// Block is one visited block.
type Block struct {
	Cid   cid.Cid
	Codec cidutil.CodecTag
	// Size is the content length beneath this block.
	Size  uint64
	Depth int
	// Data holds the raw block bytes. It is nil for leaves when
	// WalkOptions.SkipLeaves is set.
	Data []byte
	// Node is set for internal nodes.
	Node *Node
}

// WalkOptions controls Walk.
type WalkOptions struct {
	// SkipLeaves visits leaves without fetching them. Their Size comes
	// from the parent link.
	SkipLeaves bool
}

// Walk visits every block reachable from root in pre-order, children
// left to right. Shared subtrees are visited once per reference. fn may
// return an error to stop the walk; that error is returned unchanged.
func Walk(ctx context.Context, bs storage.BlockStore, root cid.Cid, opts WalkOptions, fn func(Block) error) error {
	d, err := cidutil.Classify(root)
	if err != nil {
		return err
	}

	type item struct {
		cid   cid.Cid
		codec cidutil.CodecTag
		size  uint64
		depth int
		// sized reports whether size came from a parent link.
		sized bool
	}
	stack := []item{{cid: root, codec: d.Codec}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.depth > maxDepth {
			return model.NewError(model.KindCorruption, "dag: maximum depth exceeded")
		}

		if it.codec == cidutil.CodecRaw && opts.SkipLeaves && it.sized {
			if err := fn(Block{Cid: it.cid, Codec: it.codec, Size: it.size, Depth: it.depth}); err != nil {
				return err
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := bs.Get(ctx, it.cid.Hash())
		if err != nil {
			if storage.IsNotFound(err) {
				return fmt.Errorf("dag: block %s: %w", it.cid, err)
			}
			return err
		}

		b := Block{Cid: it.cid, Codec: it.codec, Depth: it.depth, Data: data}
		switch it.codec {
		case cidutil.CodecRaw:
			b.Size = uint64(len(data))
			if it.sized && b.Size != it.size {
				return model.Errorf(model.KindCorruption, "dag: leaf %s has %d bytes, link says %d", it.cid, b.Size, it.size)
			}
		case cidutil.CodecDagCBOR:
			n, err := DecodeNode(data)
			if err != nil {
				return err
			}
			if it.sized && n.Size != it.size {
				return model.Errorf(model.KindCorruption, "dag: node %s has size %d, link says %d", it.cid, n.Size, it.size)
			}
			b.Size = n.Size
			b.Node = n
			for i := len(n.Links) - 1; i >= 0; i-- {
				l := n.Links[i]
				ld, err := cidutil.Classify(l.Cid)
				if err != nil {
					return model.Wrap(model.KindCorruption, "dag: bad link", err)
				}
				stack = append(stack, item{cid: l.Cid, codec: ld.Codec, size: l.Size, depth: it.depth + 1, sized: true})
			}
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
