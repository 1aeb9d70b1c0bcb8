package localfs

import (
	"fmt"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem block store (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("localfs-dir", "", "LocalFS block directory (for --backend=localfs)")
			fs.Bool("localfs-nosync", false, "Skip fsync on writes (for --backend=localfs; unsafe)")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			dir, _ := fs.GetString("localfs-dir")
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			noSync, _ := fs.GetBool("localfs-nosync")
			s, err := NewWithOptions(dir, Options{NoSync: noSync})
			if err != nil {
				return nil, nil, err
			}
			return s, nil, nil
		},
	})
}
