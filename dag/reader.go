package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// maxDepth bounds descent. A balanced DAG at the smallest fanout needs 64
// levels only for objects beyond 2^64 leaves.
const maxDepth = 64

type frame struct {
	node *Node
	idx  int
	// base is the content offset at which node starts.
	base uint64
}

// Reader streams the content beneath a root, depth-first and left to
// right. It holds at most one leaf and one frame per level in memory and
// fetches blocks on demand, so arbitrarily large objects stream in
// bounded memory.
//
// Errors are sticky: once a block is missing or corrupt every later Read
// returns the same error. A Reader is not safe for concurrent use.
type Reader struct {
	ctx  context.Context
	bs   storage.BlockStore
	root cid.Cid
	size uint64

	rootNode *Node
	rootLeaf []byte

	offset     uint64
	positioned bool
	stack      []frame
	leaf       []byte
	leafOff    int
	err        error
}

var _ io.ReadSeekCloser = (*Reader)(nil)

// NewReader resolves root synchronously, so an unknown or malformed root
// fails here rather than on the first Read.
func NewReader(ctx context.Context, bs storage.BlockStore, root cid.Cid) (*Reader, error) {
	d, err := cidutil.Classify(root)
	if err != nil {
		return nil, err
	}
	r := &Reader{ctx: ctx, bs: bs, root: root}
	data, err := r.fetch(root)
	if err != nil {
		return nil, err
	}
	switch d.Codec {
	case cidutil.CodecRaw:
		r.rootLeaf = data
		r.size = uint64(len(data))
	case cidutil.CodecDagCBOR:
		n, err := DecodeNode(data)
		if err != nil {
			return nil, err
		}
		r.rootNode = n
		r.size = n.Size
	}
	return r, nil
}

// Size is the total content length.
func (r *Reader) Size() uint64 { return r.size }

// Root returns the CID the reader was opened on.
func (r *Reader) Root() cid.Cid { return r.root }

func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		if r.offset >= r.size {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		if !r.positioned {
			if err := r.seekTo(r.offset); err != nil {
				r.err = err
				return n, err
			}
		} else if r.leafOff >= len(r.leaf) {
			if err := r.next(); err != nil {
				r.err = err
				return n, err
			}
		}
		c := copy(p[n:], r.leaf[r.leafOff:])
		r.leafOff += c
		r.offset += uint64(c)
		n += c
	}
	return n, nil
}

// Seek sets the offset for the next Read. Seeking past the end is
// allowed; reads there return io.EOF.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.offset) + offset
	case io.SeekEnd:
		abs = int64(r.size) + offset
	default:
		return int64(r.offset), fmt.Errorf("dag: invalid whence %d", whence)
	}
	if abs < 0 {
		return int64(r.offset), errors.New("dag: negative position")
	}
	if uint64(abs) != r.offset {
		r.offset = uint64(abs)
		r.positioned = false
		r.stack = r.stack[:0]
		r.leaf = nil
		r.leafOff = 0
	}
	return abs, nil
}

// Close releases the traversal state. Reads after Close fail.
func (r *Reader) Close() error {
	r.stack = nil
	r.leaf = nil
	r.rootNode = nil
	r.rootLeaf = nil
	if r.err == nil {
		r.err = errors.New("dag: reader closed")
	}
	return nil
}

// seekTo descends from the root to the leaf containing off.
func (r *Reader) seekTo(off uint64) error {
	r.stack = r.stack[:0]
	if r.rootLeaf != nil {
		r.leaf = r.rootLeaf
		r.leafOff = int(off)
		r.positioned = true
		return nil
	}
	if err := r.pushNode(r.rootNode, 0, off); err != nil {
		return err
	}
	return r.positionedLeaf()
}

// next moves to the leaf that follows the current one.
func (r *Reader) next() error {
	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		top.idx++
		if top.idx < len(top.node.Links) {
			base := top.base + top.node.Links[top.idx-1].Cum
			if err := r.descend(top.node.Links[top.idx], base, base); err != nil {
				return err
			}
			return nil
		}
		r.stack = r.stack[:len(r.stack)-1]
	}
	// Only reachable if the DAG is shorter than its declared size.
	return model.NewError(model.KindCorruption, "dag: content ends before declared size")
}

// pushNode records node as a frame positioned on the child containing
// target and descends into it.
func (r *Reader) pushNode(node *Node, base, target uint64) error {
	rel := target - base
	i := sort.Search(len(node.Links), func(i int) bool { return node.Links[i].Cum > rel })
	if i == len(node.Links) {
		return model.Errorf(model.KindCorruption, "dag: offset %d outside node of size %d", rel, node.Size)
	}
	if len(r.stack) >= maxDepth {
		return model.NewError(model.KindCorruption, "dag: maximum depth exceeded")
	}
	r.stack = append(r.stack, frame{node: node, idx: i, base: base})
	childBase := base
	if i > 0 {
		childBase += node.Links[i-1].Cum
	}
	return r.descend(node.Links[i], childBase, target)
}

// descend fetches link and keeps going down until a leaf is loaded.
func (r *Reader) descend(l Link, base, target uint64) error {
	d, err := cidutil.Classify(l.Cid)
	if err != nil {
		return model.Wrap(model.KindCorruption, "dag: bad link", err)
	}
	data, err := r.fetch(l.Cid)
	if err != nil {
		return err
	}
	switch d.Codec {
	case cidutil.CodecRaw:
		if uint64(len(data)) != l.Size {
			return model.Errorf(model.KindCorruption, "dag: leaf %s has %d bytes, link says %d", l.Cid, len(data), l.Size)
		}
		r.leaf = data
		r.leafOff = int(target - base)
		r.positioned = true
		return nil
	case cidutil.CodecDagCBOR:
		n, err := DecodeNode(data)
		if err != nil {
			return err
		}
		if n.Size != l.Size {
			return model.Errorf(model.KindCorruption, "dag: node %s has size %d, link says %d", l.Cid, n.Size, l.Size)
		}
		return r.pushNode(n, base, target)
	default:
		return model.Errorf(model.KindCorruption, "dag: unexpected codec %s", d.Codec)
	}
}

func (r *Reader) positionedLeaf() error {
	if !r.positioned || r.leaf == nil {
		return model.NewError(model.KindInternal, "dag: descent ended without a leaf")
	}
	return nil
}

func (r *Reader) fetch(c cid.Cid) ([]byte, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.bs.Get(r.ctx, c.Hash())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("dag: block %s: %w", c, err)
		}
		return nil, err
	}
	return data, nil
}
