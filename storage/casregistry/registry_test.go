package casregistry

import (
	"testing"

	"github.com/spf13/pflag"

	"xdao.co/cadstore/storage"
)

type nopStore struct {
	storage.BlockStore
	dir string
}

func init() {
	MustRegister(Backend{
		Name:        "test-nop",
		Description: "registry test backend",
		Usage:       UsageCLI,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String("test-nop-dir", "", "directory")
		},
		Open: func(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
			dir, err := fs.GetString("test-nop-dir")
			if err != nil {
				return nil, nil, err
			}
			return nopStore{dir: dir}, nil, nil
		},
	})
}

func TestRegister_Validation(t *testing.T) {
	if err := Register(Backend{}); err == nil {
		t.Fatalf("expected error for empty backend")
	}
	err := Register(Backend{
		Name:          "test-nop",
		Usage:         UsageCLI,
		RegisterFlags: func(*pflag.FlagSet) {},
		Open:          func(*pflag.FlagSet) (storage.BlockStore, func() error, error) { return nil, nil, nil },
	})
	if err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestListAndUsage(t *testing.T) {
	found := false
	for _, n := range Names(UsageCLI) {
		if n == "test-nop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("test-nop missing from CLI backends")
	}
	for _, n := range Names(UsageDaemon) {
		if n == "test-nop" {
			t.Fatalf("test-nop must not be listed for daemons")
		}
	}
	if _, _, err := OpenWithConfig("test-nop", UsageDaemon, nil); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestOpen_FromParsedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, UsageCLI)
	if err := fs.Parse([]string{"--test-nop-dir=/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	s, _, err := Open("test-nop", UsageCLI, fs)
	if err != nil {
		t.Fatal(err)
	}
	if s.(nopStore).dir != "/tmp/x" {
		t.Fatalf("flag value not passed through")
	}
}

func TestOpenWithConfig(t *testing.T) {
	s, _, err := OpenWithConfig("test-nop", UsageCLI, map[string]string{"test-nop-dir": "/data"})
	if err != nil {
		t.Fatal(err)
	}
	if s.(nopStore).dir != "/data" {
		t.Fatalf("config value not applied")
	}
	if _, _, err := OpenWithConfig("test-nop", UsageCLI, map[string]string{"bogus": "1"}); err == nil {
		t.Fatalf("expected unknown option error")
	}
	if _, _, err := OpenWithConfig("nope", UsageCLI, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
