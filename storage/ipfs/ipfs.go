package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// Store is a block store backed by the local Kubo "ipfs" CLI.
//
// Properties:
// - Offline by default: operates on the local IPFS repo; does not require an IPFS daemon.
// - Verifying: bytes read back are re-hashed against the requested key.
// - Best-effort: relies on an external "ipfs" binary (configurable).
//
// Kubo keys its blockstore by multihash as well, so blocks are addressed
// with a raw-codec CIDv1 wrapping the key. Blocks written through this
// store are visible to "ipfs block get" under that CID.
//
// Note: This package name is "ipfs" for familiarity, but it does not embed a
// network client; it shells out to the local Kubo CLI.
type Store struct {
	bin     string
	env     []string
	offline bool
}

var _ storage.BlockStore = (*Store)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	// If nil, the process environment is used.
	Env []string
	// Online lets commands talk to a running daemon instead of passing --offline.
	Online bool
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env, offline: !opts.Online}
}

// kuboHashName maps a key's hash function onto Kubo's --mhtype names.
func kuboHashName(key multihash.Multihash) (string, error) {
	h, err := storage.CheckKey(key)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func blockCID(key multihash.Multihash) string {
	return cid.NewCidV1(cid.Raw, key).String()
}

func (s *Store) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckPut(key, data); err != nil {
		return err
	}
	mhtype, err := kuboHashName(key)
	if err != nil {
		return err
	}

	// Store as a raw block with explicit parameters so Kubo derives the same multihash.
	out, err := s.run(ctx, data,
		"block", "put",
		"--quiet",
		"--cid-codec=raw",
		"--mhtype="+mhtype,
		"--mhlen=32",
	)
	if err != nil {
		return err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return model.Wrap(model.KindIO, "ipfs: unexpected block put output", err)
	}
	if !bytes.Equal(got.Hash(), key) {
		return fmt.Errorf("%w: kubo stored %s", storage.ErrCorrupted, got)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, nil, "block", "get", blockCID(key))
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := storage.VerifyBlock(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	_, err := s.run(ctx, nil, "block", "stat", blockCID(key))
	if err == nil {
		return true, nil
	}
	if isLikelyNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	// --force ignores missing blocks.
	_, err := s.run(ctx, nil, "block", "rm", "--force", "--quiet", blockCID(key))
	if err != nil && !isLikelyNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	if s.offline {
		args = append([]string{"--offline"}, args...)
	}
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, model.Wrap(model.KindIO, "ipfs", err)
		}
		return nil, model.NewError(model.KindIO, "ipfs: "+msg)
	}
	return nil, model.Wrap(model.KindIO, "ipfs", err)
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "block not found")
}
