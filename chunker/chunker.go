// Package chunker splits an input stream into bounded chunks.
//
// The default strategy is fixed-size: a chunk every MaxChunkSize bytes,
// the final chunk possibly shorter. The content-defined strategies
// (buzhash, rabin) delegate boundary detection to boxo's splitters; any
// chunk they produce longer than MaxChunkSize is split again so that the
// size bound holds for every strategy.
//
// Zero-length input yields exactly one empty chunk so that empty objects
// still get a CID.
package chunker

import (
	"errors"
	"fmt"
	"io"

	boxo "github.com/ipfs/boxo/chunker"

	"xdao.co/cadstore/model"
)

// DefaultMaxChunkSize is 256 KiB.
const DefaultMaxChunkSize = 256 * 1024

// maxAllowedChunkSize bounds configuration mistakes; it matches boxo's
// ChunkSizeLimit so blocks stay transferable by common IPFS tooling.
const maxAllowedChunkSize = boxo.ChunkSizeLimit

// Strategy selects how chunk boundaries are placed.
type Strategy string

const (
	StrategySize    Strategy = "size"
	StrategyBuzhash Strategy = "buzhash"
	StrategyRabin   Strategy = "rabin"
)

// ParseStrategy accepts "", "size", "buzhash" and "rabin". The empty
// string selects StrategySize.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategySize:
		return StrategySize, nil
	case StrategyBuzhash, StrategyRabin:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("chunker: unknown strategy %q", s)
	}
}

// Options configures a Chunker. The zero value is fixed-size 256 KiB.
type Options struct {
	Strategy     Strategy
	MaxChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategySize
	}
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	return o
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	o = o.withDefaults()
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if o.MaxChunkSize < 1 || o.MaxChunkSize > maxAllowedChunkSize {
		return fmt.Errorf("chunker: max chunk size %d out of range [1, %d]", o.MaxChunkSize, maxAllowedChunkSize)
	}
	return nil
}

// Chunker yields chunks lazily from a reader. It is not safe for
// concurrent use.
type Chunker struct {
	src      io.Reader
	opts     Options
	splitter boxo.Splitter
	pending  []byte
	emitted  int
	done     bool
}

// New constructs a Chunker over r.
func New(r io.Reader, opts Options) (*Chunker, error) {
	if r == nil {
		return nil, model.NewError(model.KindInvalidInput, "chunker: nil reader")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, model.Wrap(model.KindInvalidInput, "chunker: invalid options", err)
	}
	c := &Chunker{src: r, opts: opts}
	c.splitter = newSplitter(r, opts)
	return c, nil
}

func newSplitter(r io.Reader, opts Options) boxo.Splitter {
	switch opts.Strategy {
	case StrategyBuzhash:
		return boxo.NewBuzhash(r)
	case StrategyRabin:
		// boxo's rabin max is avg*1.5; halving keeps it under the bound
		// in the common case and re-splitting covers the rest.
		avg := uint64(opts.MaxChunkSize / 2)
		if avg < 64 {
			avg = 64
		}
		return boxo.NewRabin(r, avg)
	default:
		return boxo.NewSizeSplitter(r, int64(opts.MaxChunkSize))
	}
}

// MaxChunkSize returns the effective upper bound on chunk length.
func (c *Chunker) MaxChunkSize() int { return c.opts.MaxChunkSize }

// Next returns the next chunk, or io.EOF once the input is exhausted.
// Read errors are returned with KindIO and end the sequence.
//
// The returned slice is owned by the caller.
func (c *Chunker) Next() ([]byte, error) {
	for len(c.pending) == 0 {
		if c.done {
			return nil, io.EOF
		}
		b, err := c.splitter.NextBytes()
		if errors.Is(err, io.EOF) {
			c.done = true
			if c.emitted == 0 {
				c.emitted++
				return []byte{}, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			c.done = true
			return nil, model.Wrap(model.KindIO, "chunker: read", err)
		}
		c.pending = b
	}

	n := len(c.pending)
	if n > c.opts.MaxChunkSize {
		n = c.opts.MaxChunkSize
	}
	out := c.pending[:n:n]
	c.pending = c.pending[n:]
	c.emitted++
	return out, nil
}

// Reset restarts chunking from the beginning of the source. It requires
// the source to implement io.Seeker.
func (c *Chunker) Reset() error {
	seeker, ok := c.src.(io.Seeker)
	if !ok {
		return model.NewError(model.KindInvalidInput, "chunker: source is not seekable")
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return model.Wrap(model.KindIO, "chunker: rewind", err)
	}
	c.splitter = newSplitter(c.src, c.opts)
	c.pending = nil
	c.emitted = 0
	c.done = false
	return nil
}

// All chunks r completely. Prefer Next for large inputs.
func All(r io.Reader, opts Options) ([][]byte, error) {
	c, err := New(r, opts)
	if err != nil {
		return nil, err
	}
	var chunks [][]byte
	for {
		b, err := c.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, b)
	}
}
