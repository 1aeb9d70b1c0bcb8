package pgstore

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
		Name:        "postgres",
		Description: "PostgreSQL block table",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("postgres-dsn", "", "Postgres connection string (for --backend=postgres)")
			fs.String("postgres-table", defaultTable, "Block table name (for --backend=postgres)")
			fs.String("postgres-compression", "zstd", "Block compression: none, lz4, zstd (for --backend=postgres)")
			fs.Int32("postgres-max-conns", 0, "Pool size; 0 uses the pgx default (for --backend=postgres)")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			dsn, _ := fs.GetString("postgres-dsn")
			if dsn == "" {
				return nil, nil, fmt.Errorf("missing --postgres-dsn")
			}
			table, _ := fs.GetString("postgres-table")
			name, _ := fs.GetString("postgres-compression")
			maxConns, _ := fs.GetInt32("postgres-max-conns")
			c, err := blockcodec.ParseCompression(name)
			if err != nil {
				return nil, nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s, err := Connect(ctx, dsn, Options{Table: table, Compression: c, MaxConns: maxConns})
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
	})
}
