// Command cadstore-blockd serves a block store over gRPC so that other
// cadstore processes can use it with --backend=grpc.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"xdao.co/cadstore/logging"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casconfig"
	"xdao.co/cadstore/storage/casregistry"
	"xdao.co/cadstore/storage/grpccas"

	_ "xdao.co/cadstore/storage/badgerstore"
	_ "xdao.co/cadstore/storage/ipfs"
	_ "xdao.co/cadstore/storage/localfs"
	_ "xdao.co/cadstore/storage/memstore"
	_ "xdao.co/cadstore/storage/pgstore"
	_ "xdao.co/cadstore/storage/redisstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := pflag.NewFlagSet("cadstore-blockd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "Block store backend name")
	casConfig := fs.String("cas-config", "", "JSON/JSONC file describing one or more backends (overrides --backend)")
	maxMsg := fs.Int("max-msg-bytes", 8<<20, "Max gRPC message size in bytes (send+recv)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text, json")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}
	log := logging.New(*logLevel, *logFormat, errOut)

	var (
		store   storage.BlockStore
		closeFn func() error
		openErr error
	)
	if *casConfig != "" {
		cfg, err := casconfig.LoadFile(*casConfig)
		if err != nil {
			log.Error("load cas config", "path", *casConfig, "error", err)
			return 2
		}
		store, closeFn, openErr = cfg.Open(casregistry.UsageDaemon, "")
	} else {
		store, closeFn, openErr = casregistry.Open(*backend, casregistry.UsageDaemon, fs)
	}
	if openErr != nil {
		log.Error("open backend", "backend", *backend, "error", openErr)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("listen", "addr", *listen, "error", err)
		return 1
	}

	s := grpc.NewServer(grpc.MaxRecvMsgSize(*maxMsg), grpc.MaxSendMsgSize(*maxMsg))
	grpccas.RegisterBlockStoreServer(s, &grpccas.Server{Store: store})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	log.Info("cadstore-blockd listening", "addr", lis.Addr().String(), "backend", *backend)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("serve", "error", err)
			return 1
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		s.GracefulStop()
		log.Info("shutdown complete")
	}
	return 0
}
