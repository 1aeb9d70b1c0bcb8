package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"github.com/spf13/pflag"

	"xdao.co/cadstore/chunker"
	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dag"
	"xdao.co/cadstore/dagstore"
	"xdao.co/cadstore/storage"
	"xdao.co/cadstore/storage/bundle"
	"xdao.co/cadstore/storage/casconfig"
	"xdao.co/cadstore/storage/casregistry"

	_ "xdao.co/cadstore/storage/badgerstore"
	_ "xdao.co/cadstore/storage/grpccas"
	_ "xdao.co/cadstore/storage/ipfs"
	_ "xdao.co/cadstore/storage/localfs"
	_ "xdao.co/cadstore/storage/memstore"
	_ "xdao.co/cadstore/storage/pgstore"
	_ "xdao.co/cadstore/storage/redisstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "add":
		return cmdAdd(ctx, args[1:], in, out, errOut)
	case "cat":
		return cmdCat(ctx, args[1:], out, errOut)
	case "stat":
		return cmdStat(ctx, args[1:], out, errOut)
	case "export":
		return cmdExport(ctx, args[1:], out, errOut)
	case "import":
		return cmdImport(ctx, args[1:], in, out, errOut)
	case "gc":
		return cmdGC(args[1:], out, errOut)
	case "list-backends":
		printBackends(out)
		return 0
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "cascli: operator tool for cadstore block stores")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  cascli add    [common flags] [--chunker size|buzhash|rabin] [--max-chunk-size N] [--fanout N] [--hash H] <file|->")
	fmt.Fprintln(w, "  cascli cat    [common flags] [--offset N] [--length N] [--out <file>] <cid>")
	fmt.Fprintln(w, "  cascli stat   [common flags] <cid>")
	fmt.Fprintln(w, "  cascli export [common flags] [--label name=cid ...] [--out <file>] <cid> [<cid> ...]")
	fmt.Fprintln(w, "  cascli import [common flags] [--ignore-unknown] [--verify-roots] <bundle|->")
	fmt.Fprintln(w, "  cascli gc     [common flags] [--discard-ratio R]")
	fmt.Fprintln(w, "  cascli list-backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  --backend <name>       block store backend (default localfs)")
	fmt.Fprintln(w, "  --cas-config <file>    JSON/JSONC multi-backend config (overrides --backend)")
	fmt.Fprintln(w, "  plus every backend's own flags, e.g. --localfs-dir, --grpc-target, --badger-dir")
}

type commonFlags struct {
	backend   string
	casConfig string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "Block store backend name")
	fs.StringVar(&c.casConfig, "cas-config", "", "JSON/JSONC multi-backend config (overrides --backend)")
	casregistry.RegisterFlags(fs, casregistry.UsageCLI)
}

func (c *commonFlags) open(fs *pflag.FlagSet) (storage.BlockStore, func() error, error) {
	if c.casConfig != "" {
		cfg, err := casconfig.LoadFile(c.casConfig)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(casregistry.UsageCLI, "")
	}
	return casregistry.Open(c.backend, casregistry.UsageCLI, fs)
}

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

func printBackends(w io.Writer) {
	for _, b := range casregistry.List(casregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

func cmdAdd(ctx context.Context, args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("add", errOut)
	var common commonFlags
	common.add(fs)
	strategy := fs.String("chunker", string(chunker.StrategySize), "Chunking strategy: size, buzhash, rabin")
	maxChunk := fs.Int("max-chunk-size", chunker.DefaultMaxChunkSize, "Maximum chunk size in bytes")
	fanout := fs.Int("fanout", dag.DefaultFanout, "Maximum links per DAG node")
	hashName := fs.String("hash", cidutil.DefaultHash.String(), "Hash function")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli add [flags] <file|->")
		return 2
	}
	st, err := chunker.ParseStrategy(*strategy)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	h, err := cidutil.ParseHashTag(*hashName)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}
	store, err := dagstore.New(bs, dagstore.Options{Chunker: st, MaxChunkSize: *maxChunk, Hash: h, Fanout: *fanout})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	src := in
	if p := fs.Arg(0); p != "-" {
		f, err := os.Open(p)
		if err != nil {
			fmt.Fprintf(errOut, "open %s: %v\n", filepath.Base(p), err)
			return 1
		}
		defer f.Close()
		src = f
	}
	root, err := store.Add(ctx, src)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, cidutil.String(root.Cid))
	_, _ = fmt.Fprintf(errOut, "%s in %d blocks (depth %d)\n", humanize.IBytes(root.Size), root.Blocks, root.Depth)
	return 0
}

func cmdCat(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("cat", errOut)
	var common commonFlags
	common.add(fs)
	offset := fs.Int64("offset", 0, "Start offset in bytes")
	length := fs.Int64("length", -1, "Number of bytes to read (-1 reads to the end)")
	outPath := fs.String("out", "", "Output file (optional; default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli cat [flags] <cid>")
		return 2
	}
	id, err := cidutil.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}
	store, err := dagstore.New(bs, dagstore.Options{})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	r, err := store.Cat(ctx, id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer r.Close()
	if _, err := r.Seek(*offset, io.SeekStart); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	var src io.Reader = r
	if *length >= 0 {
		src = io.LimitReader(r, *length)
	}

	dst := out
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			fmt.Fprintf(errOut, "create %s: %v\n", *outPath, err)
			return 1
		}
		defer f.Close()
		dst = f
	}
	if _, err := io.Copy(dst, src); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdStat(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("stat", errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli stat [flags] <cid>")
		return 2
	}
	id, err := cidutil.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}
	store, err := dagstore.New(bs, dagstore.Options{})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	st, err := store.Stat(ctx, id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintf(out, "CID:    %s\n", st.CID)
	_, _ = fmt.Fprintf(out, "Codec:  %s\n", st.Codec)
	_, _ = fmt.Fprintf(out, "Hash:   %s\n", st.Hash)
	_, _ = fmt.Fprintf(out, "Size:   %s (%s bytes)\n", humanize.IBytes(st.Size), humanize.Comma(int64(st.Size)))
	_, _ = fmt.Fprintf(out, "Links:  %d\n", st.Links)
	_, _ = fmt.Fprintf(out, "Blocks: %d\n", st.Blocks)
	_, _ = fmt.Fprintf(out, "Depth:  %d\n", st.Depth)
	return 0
}

func cmdExport(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("export", errOut)
	var common commonFlags
	common.add(fs)
	labels := fs.StringArray("label", nil, "Label as name=cid (repeatable)")
	outPath := fs.String("out", "", "Output file (optional; default stdout)")
	noIndex := fs.Bool("no-index", false, "Omit index.json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: cascli export [flags] <cid> [<cid> ...]")
		return 2
	}

	roots := make([]cid.Cid, 0, fs.NArg())
	for _, s := range fs.Args() {
		c, err := cidutil.Parse(s)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		roots = append(roots, c)
	}
	opts := bundle.ExportOptions{IncludeIndex: !*noIndex}
	if len(*labels) > 0 {
		opts.Labels = make(map[string]cid.Cid, len(*labels))
		for _, l := range *labels {
			name, value, ok := strings.Cut(l, "=")
			if !ok {
				fmt.Fprintf(errOut, "invalid --label %q (want name=cid)\n", l)
				return 2
			}
			c, err := cidutil.Parse(value)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return 1
			}
			opts.Labels[name] = c
		}
	}

	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	dst := out
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			fmt.Fprintf(errOut, "create %s: %v\n", *outPath, err)
			return 1
		}
		defer f.Close()
		dst = f
	}
	if err := bundle.Export(ctx, dst, bs, roots, opts); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdImport(ctx context.Context, args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("import", errOut)
	var common commonFlags
	common.add(fs)
	ignoreUnknown := fs.Bool("ignore-unknown", false, "Skip unknown bundle entries instead of failing")
	verifyRoots := fs.Bool("verify-roots", false, "Check every root in index.json is complete after import")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli import [flags] <bundle|->")
		return 2
	}

	src := in
	if p := fs.Arg(0); p != "-" {
		f, err := os.Open(p)
		if err != nil {
			fmt.Fprintf(errOut, "open %s: %v\n", filepath.Base(p), err)
			return 1
		}
		defer f.Close()
		src = f
	}

	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}
	res, err := bundle.ImportWithOptions(ctx, src, bs, bundle.ImportOptions{IgnoreUnknown: *ignoreUnknown, VerifyRoots: *verifyRoots})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, r := range res.Roots {
		_, _ = fmt.Fprintln(out, cidutil.String(r))
	}
	_, _ = fmt.Fprintf(errOut, "imported %s blocks\n", humanize.Comma(int64(res.Blocks)))
	return 0
}

// valueLogCollector is implemented by backends that can reclaim space
// left behind by deleted or overwritten values.
type valueLogCollector interface {
	RunGC(discardRatio float64) error
}

func cmdGC(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("gc", errOut)
	var common commonFlags
	common.add(fs)
	ratio := fs.Float64("discard-ratio", 0.5, "Rewrite value log files with at least this fraction of stale data")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: cascli gc [flags]")
		return 2
	}
	if *ratio <= 0 || *ratio >= 1 {
		fmt.Fprintf(errOut, "--discard-ratio must be in (0, 1), got %v\n", *ratio)
		return 2
	}

	bs, closeFn, err := common.open(fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}
	gc, ok := bs.(valueLogCollector)
	if !ok {
		fmt.Fprintf(errOut, "backend %q does not support gc\n", common.backend)
		return 1
	}
	if err := gc.RunGC(*ratio); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, "gc complete")
	return 0
}
