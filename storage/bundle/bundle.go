// Package bundle moves whole DAGs between block stores as TAR archives.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dag"
	"xdao.co/cadstore/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names to CIDs.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR bundle containing every block
// reachable from roots.
//
// The bundle bytes are deterministic: entry order is lexicographic and TAR headers are normalized.
// All exported bytes are validated against their CIDs by the store and the DAG walk.
func Export(ctx context.Context, w io.Writer, bs storage.BlockStore, roots []cid.Cid, opts ExportOptions) error {
	if bs == nil {
		return fmt.Errorf("bundle: nil block store")
	}

	blocks := map[string][]byte{}
	rootSet := map[string]struct{}{}
	for _, root := range roots {
		if _, err := cidutil.Classify(root); err != nil {
			return err
		}
		rootSet[cidutil.String(root)] = struct{}{}
		err := dag.Walk(ctx, bs, root, dag.WalkOptions{}, func(b dag.Block) error {
			blocks[cidutil.String(b.Cid)] = b.Data
			return nil
		})
		if err != nil {
			return err
		}
	}

	names := make([]string, 0, len(blocks))
	for s := range blocks {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	index := make([]indexBlock, 0, len(names))
	for _, s := range names {
		b := blocks[s]
		if err := writeFile(tw, "blocks/"+s, b); err != nil {
			_ = tw.Close()
			return err
		}
		index = append(index, indexBlock{CID: s, Size: len(b)})
	}

	if opts.IncludeIndex {
		idx := indexJSON{
			Version: FormatVersion,
			Roots:   sortedKeys(rootSet),
			Blocks:  index,
		}

		if len(opts.Labels) > 0 {
			keys := make([]string, 0, len(opts.Labels))
			for k := range opts.Labels {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			labels := make([]indexLabel, 0, len(keys))
			for _, k := range keys {
				if k == "" {
					_ = tw.Close()
					return fmt.Errorf("bundle: empty label key")
				}
				v := opts.Labels[k]
				if _, err := cidutil.Classify(v); err != nil {
					_ = tw.Close()
					return err
				}
				labels = append(labels, indexLabel{Name: k, CID: cidutil.String(v)})
			}
			idx.Labels = labels
		}

		b, err := marshalCanonicalIndexJSON(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", b); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Import to return an error.
	IgnoreUnknown bool
	// VerifyRoots walks every root named in index.json after import and
	// fails if any block beneath it is missing.
	VerifyRoots bool
}

// Result summarizes an import.
type Result struct {
	Blocks int
	// Roots lists the roots recorded in index.json, if present.
	Roots []cid.Cid
}

// Import reads a bundle from r and imports all blocks into bs with
// fail-closed defaults.
func Import(ctx context.Context, r io.Reader, bs storage.BlockStore) (Result, error) {
	return ImportWithOptions(ctx, r, bs, ImportOptions{})
}

// ImportWithOptions reads a bundle from r and imports all blocks into bs.
//
// Every block's bytes must hash to the CID in its entry name; the first
// mismatch aborts the import with storage.ErrCorrupted.
func ImportWithOptions(ctx context.Context, r io.Reader, bs storage.BlockStore, opts ImportOptions) (Result, error) {
	var res Result
	if bs == nil {
		return res, fmt.Errorf("bundle: nil block store")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var idx *indexJSON

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == "index.json" {
			var parsed indexJSON
			if err := json.NewDecoder(tr).Decode(&parsed); err != nil {
				return res, fmt.Errorf("bundle: index.json: %w", err)
			}
			idx = &parsed
			continue
		}

		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return res, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		d, err := cidutil.Decode(strings.TrimPrefix(name, "blocks/"))
		if err != nil {
			return res, err
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return res, err
		}
		if err := storage.VerifyBlock(d.Cid.Hash(), payload); err != nil {
			return res, err
		}

		key := cidutil.String(d.Cid)
		if _, ok := seen[key]; ok {
			return res, fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		if err := bs.Put(ctx, d.Cid.Hash(), payload); err != nil {
			return res, err
		}
		res.Blocks++
	}

	if idx != nil {
		for _, s := range idx.Roots {
			c, err := cidutil.Parse(s)
			if err != nil {
				return res, err
			}
			res.Roots = append(res.Roots, c)
		}
	}
	if opts.VerifyRoots {
		for _, root := range res.Roots {
			err := dag.Walk(ctx, bs, root, dag.WalkOptions{SkipLeaves: true}, func(b dag.Block) error {
				if b.Data != nil {
					return nil
				}
				ok, err := bs.Has(ctx, b.Cid.Hash())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("bundle: root %s: %w: %s", root, storage.ErrNotFound, b.Cid)
				}
				return nil
			})
			if err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

type indexJSON struct {
	Version int          `json:"version"`
	Roots   []string     `json:"roots,omitempty"`
	Blocks  []indexBlock `json:"blocks"`
	Labels  []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func marshalCanonicalIndexJSON(idx indexJSON) ([]byte, error) {
	// indexJSON is composed only of structs + slices; encoding/json will be deterministic.
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
