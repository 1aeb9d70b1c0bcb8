package ipfs

import (
	"os"
	"os/exec"
	"testing"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/testkit"
)

func TestBlockCID_WrapsKey(t *testing.T) {
	data := []byte("hello")
	key := testkit.Key(t, data, cidutil.HashSHA2_256)
	if got, want := blockCID(key), cidutil.CIDv1RawSHA256(data); got != want {
		t.Fatalf("blockCID=%s want %s", got, want)
	}
	name, err := kuboHashName(testkit.Key(t, data, cidutil.HashBLAKE3))
	if err != nil || name != "blake3" {
		t.Fatalf("kuboHashName=%q,%v", name, err)
	}
}

func TestIPFS_Conformance(t *testing.T) {
	bin, err := exec.LookPath("ipfs")
	if err != nil {
		t.Skip("ipfs binary not found")
	}
	testkit.RunBlockStoreConformance(t, func(t *testing.T) storage.BlockStore {
		repo := t.TempDir()
		env := append(os.Environ(), "IPFS_PATH="+repo)
		cmd := exec.Command(bin, "init", "--profile=test")
		cmd.Env = env
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("ipfs init: %v: %s", err, out)
		}
		return New(Options{Bin: bin, Env: env})
	})
}
