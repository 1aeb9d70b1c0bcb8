package memstore

import (
	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:          "memory",
		Description:   "In-memory block store (not persisted)",
		Usage:         casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			return New(), nil, nil
		},
	})
}
