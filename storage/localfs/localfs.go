package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/multiformats/go-multihash"
	"golang.org/x/sync/singleflight"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// Store is a local filesystem-backed block store.
//
// Blocks live at <root>/blocks/<shard>/<key>, where key is the lowercase
// base32 multihash and shard is the next-to-last two characters of key.
// Writes go to <root>/tmp first and are renamed into place after fsync,
// so readers never observe a partial block.
//
// This implementation is offline and deterministic: it never uses the network
// and never depends on wall-clock time.
type Store struct {
	root   string
	noSync bool
	group  singleflight.Group
}

var _ storage.BlockStore = (*Store)(nil)

// Options tune durability. The zero value fsyncs every write.
type Options struct {
	// NoSync skips fsync of block files and directories. Only for tests
	// and throwaway stores.
	NoSync bool
}

// New constructs a filesystem store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	return NewWithOptions(root, Options{})
}

func NewWithOptions(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{root, filepath.Join(root, "blocks"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, model.Wrap(model.KindIO, "localfs: create "+dir, err)
		}
	}
	return &Store{root: root, noSync: opts.NoSync}, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string { return s.root }

func (s *Store) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckPut(key, data); err != nil {
		return err
	}
	name := storage.KeyString(key)
	// Racing puts of one key share a single write; distinct keys never wait
	// on each other.
	_, err, _ := s.group.Do(name, func() (any, error) {
		return nil, s.write(name, data)
	})
	return err
}

func (s *Store) write(name string, data []byte) error {
	path := s.pathFor(name)
	if fi, err := os.Stat(path); err == nil {
		if fi.Size() != int64(len(data)) {
			return fmt.Errorf("%w: %s has %d bytes, want %d", storage.ErrCorrupted, name, fi.Size(), len(data))
		}
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return model.Wrap(model.KindIO, "localfs: stat block", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Wrap(model.KindIO, "localfs: create shard", err)
	}

	f, err := os.CreateTemp(filepath.Join(s.root, "tmp"), name+".*")
	if err != nil {
		return model.Wrap(model.KindIO, "localfs: create temp", err)
	}
	tmp := f.Name()
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return model.Wrap(model.KindIO, "localfs: write block", err)
	}
	if !s.noSync {
		if err := f.Sync(); err != nil {
			cleanup()
			return model.Wrap(model.KindIO, "localfs: sync block", err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return model.Wrap(model.KindIO, "localfs: close block", err)
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		_ = os.Remove(tmp)
		return model.Wrap(model.KindIO, "localfs: chmod block", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return model.Wrap(model.KindIO, "localfs: rename block", err)
	}
	if !s.noSync {
		if err := syncDir(dir); err != nil {
			return model.Wrap(model.KindIO, "localfs: sync shard", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(storage.KeyString(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, model.Wrap(model.KindIO, "localfs: read block", err)
	}
	if err := storage.VerifyBlock(key, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.pathFor(storage.KeyString(key)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, model.Wrap(model.KindIO, "localfs: stat block", err)
}

func (s *Store) Delete(ctx context.Context, key multihash.Multihash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	err := os.Remove(s.pathFor(storage.KeyString(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.Wrap(model.KindIO, "localfs: remove block", err)
	}
	return nil
}

// BlockPath returns the file a block is (or would be) stored at.
func (s *Store) BlockPath(key multihash.Multihash) (string, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return "", err
	}
	return s.pathFor(storage.KeyString(key)), nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.root, "blocks", shard(name), name)
}

// shard picks the next-to-last two characters: the leading characters of
// a multihash key encode the hash code and would put everything in one
// directory.
func shard(name string) string {
	if len(name) < 3 {
		return "_"
	}
	return name[len(name)-3 : len(name)-1]
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
