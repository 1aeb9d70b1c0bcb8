// Package dag builds and reads the balanced Merkle DAG that represents a
// stored object.
//
// Leaves are raw blocks holding one chunk each. Internal nodes are
// DAG-CBOR maps
//
//	{"links": [{"cid": <link>, "size": u64, "cum": u64}, ...], "size": u64}
//
// where a link is CBOR tag 42 over 0x00 || cid bytes, size is the number
// of content bytes beneath the link, and cum is the running total through
// that link. Cumulative lengths let a reader jump to any offset with one
// binary search per level.
package dag

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
)

const (
	// DefaultFanout is the number of links per internal node. 174 links
	// of sha2-256 CIDs keep a node comfortably under 8 KiB.
	DefaultFanout = 174
	// MaxFanout bounds both the builder and what a reader accepts.
	MaxFanout = 4096

	cidLinkTag = 42
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dag: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: MaxFanout,
	}.DecMode()
	if err != nil {
		panic("dag: CBOR decoder initialization failed: " + err.Error())
	}
}

// Link points at a child block.
type Link struct {
	Cid cid.Cid
	// Size is the number of content bytes beneath the child.
	Size uint64
	// Cum is the content length through this link, inclusive.
	Cum uint64
}

// Node is a decoded internal node.
type Node struct {
	Links []Link
	Size  uint64
}

type wireLink struct {
	Cid  cbor.Tag `cbor:"cid"`
	Size uint64   `cbor:"size"`
	Cum  uint64   `cbor:"cum"`
}

type wireNode struct {
	Links []wireLink `cbor:"links"`
	Size  uint64     `cbor:"size"`
}

// NewNode builds a node over children, recomputing cumulative lengths.
func NewNode(children []Link) *Node {
	n := &Node{Links: make([]Link, len(children))}
	var cum uint64
	for i, c := range children {
		cum += c.Size
		n.Links[i] = Link{Cid: c.Cid, Size: c.Size, Cum: cum}
	}
	n.Size = cum
	return n
}

// Validate checks the structural invariants every stored node satisfies.
func (n *Node) Validate() error {
	if len(n.Links) == 0 {
		return fmt.Errorf("dag: node has no links")
	}
	if len(n.Links) > MaxFanout {
		return fmt.Errorf("dag: node has %d links, max %d", len(n.Links), MaxFanout)
	}
	var cum uint64
	for i, l := range n.Links {
		if _, err := cidutil.Classify(l.Cid); err != nil {
			return fmt.Errorf("dag: link %d: %w", i, err)
		}
		if l.Size == 0 {
			return fmt.Errorf("dag: link %d has zero size", i)
		}
		cum += l.Size
		if cum < l.Size {
			return fmt.Errorf("dag: link %d overflows", i)
		}
		if l.Cum != cum {
			return fmt.Errorf("dag: link %d cum %d, want %d", i, l.Cum, cum)
		}
	}
	if n.Size != cum {
		return fmt.Errorf("dag: node size %d, links sum to %d", n.Size, cum)
	}
	return nil
}

// Encode returns the canonical DAG-CBOR bytes of n.
func (n *Node) Encode() ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, model.Wrap(model.KindInternal, "dag: encode", err)
	}
	w := wireNode{Links: make([]wireLink, len(n.Links)), Size: n.Size}
	for i, l := range n.Links {
		w.Links[i] = wireLink{
			Cid:  cbor.Tag{Number: cidLinkTag, Content: append([]byte{0x00}, l.Cid.Bytes()...)},
			Size: l.Size,
			Cum:  l.Cum,
		}
	}
	b, err := encMode.Marshal(w)
	if err != nil {
		return nil, model.Wrap(model.KindInternal, "dag: encode", err)
	}
	return b, nil
}

// DecodeNode parses and validates an internal node. Anything that is not
// a canonical, well-formed node fails with KindCorruption: the block
// hashed correctly, so its content is wrong.
func DecodeNode(data []byte) (*Node, error) {
	var w wireNode
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, model.Wrap(model.KindCorruption, "dag: decode node", err)
	}
	n := &Node{Links: make([]Link, len(w.Links)), Size: w.Size}
	for i, wl := range w.Links {
		c, err := decodeLink(wl.Cid)
		if err != nil {
			return nil, model.Wrap(model.KindCorruption, fmt.Sprintf("dag: link %d", i), err)
		}
		n.Links[i] = Link{Cid: c, Size: wl.Size, Cum: wl.Cum}
	}
	if err := n.Validate(); err != nil {
		return nil, model.Wrap(model.KindCorruption, "dag: invalid node", err)
	}
	canon, err := n.Encode()
	if err != nil || !bytes.Equal(canon, data) {
		return nil, model.NewError(model.KindCorruption, "dag: node is not canonically encoded")
	}
	return n, nil
}

func decodeLink(t cbor.Tag) (cid.Cid, error) {
	if t.Number != cidLinkTag {
		return cid.Undef, fmt.Errorf("unexpected tag %d", t.Number)
	}
	b, ok := t.Content.([]byte)
	if !ok || len(b) < 2 || b[0] != 0x00 {
		return cid.Undef, fmt.Errorf("malformed cid link")
	}
	n, c, err := cid.CidFromBytes(b[1:])
	if err != nil {
		return cid.Undef, err
	}
	if n != len(b)-1 {
		return cid.Undef, fmt.Errorf("trailing bytes after cid")
	}
	return c, nil
}
