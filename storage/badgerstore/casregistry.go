package badgerstore

import (
	"fmt"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "badger",
		Description: "Embedded Badger key/value block store",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("badger-dir", "", "Badger database directory (for --backend=badger)")
			fs.Bool("badger-sync", true, "Fsync every commit (for --backend=badger)")
			fs.String("badger-compression", "zstd", "Block compression: none, lz4, zstd (for --backend=badger)")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			dir, _ := fs.GetString("badger-dir")
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --badger-dir")
			}
			sync, _ := fs.GetBool("badger-sync")
			name, _ := fs.GetString("badger-compression")
			c, err := blockcodec.ParseCompression(name)
			if err != nil {
				return nil, nil, err
			}
			s, err := Open(Options{Dir: dir, SyncWrites: sync, Compression: c})
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
	})
}
