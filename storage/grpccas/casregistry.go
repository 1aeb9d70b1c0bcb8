package grpccas

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC block store client (talks to cadstore-blockd)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.Duration("grpc-dial-timeout", 5*time.Second, "Dial timeout (for --backend=grpc)")
			fs.Duration("grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			fs.Int("grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			target, _ := fs.GetString("grpc-target")
			target = strings.TrimSpace(target)
			if target == "" {
				return nil, nil, fmt.Errorf("missing --grpc-target")
			}
			dialTimeout, _ := fs.GetDuration("grpc-dial-timeout")
			timeout, _ := fs.GetDuration("grpc-timeout")
			maxMsg, _ := fs.GetInt("grpc-max-msg-bytes")
			client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
