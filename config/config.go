// Package config merges daemon settings from defaults, an optional .env
// file, an optional YAML file, CADSTORE_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"xdao.co/cadstore/chunker"
	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dagstore"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/casconfig"
	"xdao.co/cadstore/storage/casregistry"
)

// EnvPrefix prefixes every environment variable, e.g. CADSTORE_HTTP_ADDR.
const EnvPrefix = "CADSTORE"

type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	Backend         string        `mapstructure:"backend"`
	CASConfig       string        `mapstructure:"cas_config"`
	Chunker         string        `mapstructure:"chunker"`
	MaxChunkSize    int           `mapstructure:"max_chunk_size"`
	Fanout          int           `mapstructure:"fanout"`
	Hash            string        `mapstructure:"hash"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	BodyLimit       string        `mapstructure:"body_limit"`
	RecentCIDs      int           `mapstructure:"recent_cids"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	flags *pflag.FlagSet
	usage casregistry.Usage
}

// Load parses args (without the program name) for the program name.
//
// Backend flags come from every backend linked into the binary for usage;
// their values are merged the same way, so CADSTORE_LOCALFS_DIR and a
// localfs_dir YAML key both set --localfs-dir.
func Load(name string, args []string, usage casregistry.Usage) (*Config, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("http-addr", ":8080", "HTTP listen address")
	flags.String("grpc-addr", "", "gRPC block service listen address (empty disables)")
	flags.String("backend", "localfs", "Block store backend: "+strings.Join(casregistry.Names(usage), ", "))
	flags.String("cas-config", "", "JSON/JSONC file describing one or more backends (overrides --backend)")
	flags.String("chunker", string(chunker.StrategySize), "Chunking strategy: size, buzhash, rabin")
	flags.Int("max-chunk-size", chunker.DefaultMaxChunkSize, "Maximum chunk size in bytes")
	flags.Int("fanout", 174, "Maximum links per DAG node")
	flags.String("hash", cidutil.DefaultHash.String(), "Hash function: sha2-256, blake2b-256, sha3-256, blake3")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text, json")
	flags.String("body-limit", "64M", "Maximum HTTP request body size")
	flags.Int("recent-cids", 10, "Number of recently stored CIDs reported by /api/v1/stats")
	flags.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	configFile := flags.String("config", "", "YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded into the environment if present")
	casregistry.RegisterFlags(flags, usage)

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", *envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if flags.Lookup("localfs-dir") != nil {
		v.SetDefault("localfs_dir", "./data")
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env-file" {
			return
		}
		if err := v.BindPFlag(key(f.Name), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: %s: %w", *configFile, err)
		}
	}

	cfg := &Config{flags: flags, usage: usage}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	// Push merged values back into the flag set so backends opened from
	// it see env and file settings too.
	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "config" || f.Name == "env-file" {
			return
		}
		k := key(f.Name)
		if !v.IsSet(k) {
			return
		}
		val := v.GetString(k)
		if val == f.Value.String() {
			return
		}
		if err := flags.Set(f.Name, val); err != nil && setErr == nil {
			setErr = fmt.Errorf("config: %s: %w", k, err)
		}
	})
	if setErr != nil {
		return nil, setErr
	}

	return cfg, cfg.Validate()
}

func key(flag string) string { return strings.ReplaceAll(flag, "-", "_") }

// Validate reports settings that would fail later at startup.
func (c *Config) Validate() error {
	if _, err := c.StoreOptions(); err != nil {
		return err
	}
	if c.CASConfig == "" && c.Backend == "" {
		return errors.New("config: backend is required")
	}
	if c.RecentCIDs < 0 {
		return fmt.Errorf("config: recent_cids must be >= 0, got %d", c.RecentCIDs)
	}
	return nil
}

// StoreOptions converts the chunking and DAG settings for dagstore.New.
func (c *Config) StoreOptions() (dagstore.Options, error) {
	strategy, err := chunker.ParseStrategy(c.Chunker)
	if err != nil {
		return dagstore.Options{}, err
	}
	hash, err := cidutil.ParseHashTag(c.Hash)
	if err != nil {
		return dagstore.Options{}, err
	}
	return dagstore.Options{
		Chunker:      strategy,
		MaxChunkSize: c.MaxChunkSize,
		Hash:         hash,
		Fanout:       c.Fanout,
	}, nil
}

// OpenStore opens the configured block store: the casconfig file when
// one is set, otherwise the single named backend.
func (c *Config) OpenStore() (storage.BlockStore, func() error, error) {
	if c.CASConfig != "" {
		cc, err := casconfig.LoadFile(c.CASConfig)
		if err != nil {
			return nil, nil, err
		}
		return cc.Open(c.usage, "")
	}
	return casregistry.Open(c.Backend, c.usage, c.flags)
}

// Flags returns the parsed flag set.
func (c *Config) Flags() *pflag.FlagSet { return c.flags }
