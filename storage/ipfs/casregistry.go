package ipfs

import (
	"os"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("ipfs-bin", "ipfs", "Path to the Kubo binary (for --backend=ipfs)")
			fs.String("ipfs-path", "", "IPFS_PATH for the repository; empty uses the environment (for --backend=ipfs)")
			fs.Bool("ipfs-online", false, "Use a running daemon instead of --offline (for --backend=ipfs)")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			bin, _ := fs.GetString("ipfs-bin")
			path, _ := fs.GetString("ipfs-path")
			online, _ := fs.GetBool("ipfs-online")
			var env []string
			if path != "" {
				env = append(os.Environ(), "IPFS_PATH="+path)
			}
			return New(Options{Bin: bin, Env: env, Online: online}), nil, nil
		},
	})
}
