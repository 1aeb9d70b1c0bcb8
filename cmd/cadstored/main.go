// Command cadstored serves the add/cat REST API, and optionally the gRPC
// block service, over one block store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/config"
	"xdao.co/cadstore/dagstore"
	"xdao.co/cadstore/httpapi"
	"xdao.co/cadstore/logging"
	"xdao.co/cadstore/stats"
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
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	cfg, err := config.Load("cadstored", args, casregistry.UsageDaemon)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(errOut, err)
		return 2
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, errOut)

	bs, closeStore, err := cfg.OpenStore()
	if err != nil {
		log.Error("open block store", "backend", cfg.Backend, "error", err)
		return 2
	}
	if closeStore != nil {
		defer func() {
			if err := closeStore(); err != nil {
				log.Error("close block store", "error", err)
			}
		}()
	}

	collector := stats.New(cfg.RecentCIDs)
	opts, err := cfg.StoreOptions()
	if err != nil {
		log.Error("store options", "error", err)
		return 2
	}
	opts.Logger = log
	opts.OnAdd = func(c cid.Cid) { collector.RecordCID(cidutil.String(c)) }
	store, err := dagstore.New(bs, opts)
	if err != nil {
		log.Error("init store", "error", err)
		return 2
	}

	api := httpapi.New(store, httpapi.Options{
		BodyLimit: cfg.BodyLimit,
		Logger:    log,
		Stats:     collector,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("cadstored starting", "addr", cfg.HTTPAddr, "backend", cfg.Backend, "chunker", opts.Chunker, "hash", opts.Hash.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Error("listen", "addr", cfg.GRPCAddr, "error", err)
			return 1
		}
		grpcServer = grpc.NewServer()
		grpccas.RegisterBlockStoreServer(grpcServer, &grpccas.Server{Store: bs})
		go func() {
			log.Info("block service starting", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	code := 0
	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		code = 1
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}
	shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
	return code
}

func shutdown(log *slog.Logger, httpServer *http.Server, grpcServer *grpc.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			grpcServer.Stop()
		}
	}
	log.Info("shutdown complete")
}
