package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/blockcodec"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "redis",
		Description: "Redis block store",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("redis-url", "", "Redis URL, e.g. redis://localhost:6379/0 (for --backend=redis)")
			fs.String("redis-prefix", defaultPrefix, "Key prefix (for --backend=redis)")
			fs.String("redis-compression", "lz4", "Block compression: none, lz4, zstd (for --backend=redis)")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			url, _ := fs.GetString("redis-url")
			if url == "" {
				return nil, nil, fmt.Errorf("missing --redis-url")
			}
			prefix, _ := fs.GetString("redis-prefix")
			name, _ := fs.GetString("redis-compression")
			c, err := blockcodec.ParseCompression(name)
			if err != nil {
				return nil, nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s, err := Dial(ctx, url, Options{Prefix: prefix, Compression: c})
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
	})
}
