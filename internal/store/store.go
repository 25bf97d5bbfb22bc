package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/city"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/pointtiles-go/internal/bucket"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

var codecOnce sync.Once

// UseJSONIter switches the geojson package to jsoniter for every later encode
// and decode. Its standard-library compatible config sorts map keys, so tile
// bytes do not depend on how features were batched. New calls it; safe to repeat.
func UseJSONIter() {
	codecOnce.Do(func() {
		geojson.CustomJSONMarshaler = jsoniter.ConfigCompatibleWithStandardLibrary
		geojson.CustomJSONUnmarshaler = jsoniter.ConfigCompatibleWithStandardLibrary
	})
}

// ErrCorruptTile marks an existing tile file that cannot be decompressed or decoded.
var ErrCorruptTile = errors.New("corrupt tile")

// TileError reports a failed operation on one tile file.
type TileError struct {
	Key  tile.Key
	Path string
	Op   string
	Err  error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s (%s): %s: %v", e.Key, e.Path, e.Op, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Options configures a Store
type Options struct {
	Root             string // Pyramid root directory
	Ext              string // Tile file extension, without the leading dot
	Workers          int    // Tiles merged in parallel during a flush
	CompressionLevel int    // gzip level, -1 for the library default
}

// TileResult describes one tile written by a flush.
type TileResult struct {
	Key     tile.Key
	Path    string
	Added   int   // Features appended by this flush
	Total   int   // Features in the tile after the flush
	Bytes   int64 // Compressed size on disk
	Created bool  // The tile did not exist before this flush
}

// FlushResult summarises a flush. Tiles are sorted by key.
type FlushResult struct {
	Tiles   []TileResult
	Created int
	Updated int
	Added   int64
	Bytes   int64
}

const lockStripes = 256

// Store persists tile buckets as gzip-compressed GeoJSON files under a root directory.
type Store struct {
	root    string
	ext     string
	workers int
	level   int
	locks   [lockStripes]sync.Mutex
}

// New creates a store rooted at opts.Root, creating the directory if needed.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if opts.Ext == "" {
		opts.Ext = "geojson.gz"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CompressionLevel < gzip.DefaultCompression || opts.CompressionLevel > gzip.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", opts.CompressionLevel)
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	UseJSONIter()

	return &Store{
		root:    opts.Root,
		ext:     opts.Ext,
		workers: opts.Workers,
		level:   opts.CompressionLevel,
	}, nil
}

// Root returns the pyramid root directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the file location of a tile
func (s *Store) Path(k tile.Key) string {
	return k.Path(s.root, s.ext)
}

// Flush merges every non-empty bucket of the batch into its tile file.
// Distinct tiles are merged concurrently; the first failure stops scheduling
// further tiles and is returned. Cancelling ctx does not interrupt a flush.
func (s *Store) Flush(ctx context.Context, batch bucket.Batch) (*FlushResult, error) {
	keys := batch.Keys()
	results := make([]TileResult, len(keys))

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.workers)
	for i, k := range keys {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.mergeTile(k, batch[k])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &FlushResult{Tiles: results}
	for _, r := range results {
		if r.Created {
			out.Created++
		} else {
			out.Updated++
		}
		out.Added += int64(r.Added)
		out.Bytes += r.Bytes
	}
	return out, nil
}

// mergeTile appends feats to the tile at k through a full read-modify-write.
func (s *Store) mergeTile(k tile.Key, feats []*geojson.Feature) (TileResult, error) {
	path := s.Path(k)
	unlock := s.lock(path)
	defer unlock()

	fc, err := ReadTile(path)
	created := false
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fc = geojson.NewFeatureCollection()
		created = true
	case errors.Is(err, ErrCorruptTile):
		return TileResult{}, &TileError{Key: k, Path: path, Op: "decode", Err: err}
	case err != nil:
		return TileResult{}, &TileError{Key: k, Path: path, Op: "read", Err: err}
	}

	fc.Features = append(fc.Features, feats...)

	n, err := s.writeTile(k, path, fc)
	if err != nil {
		return TileResult{}, err
	}

	return TileResult{
		Key:     k,
		Path:    path,
		Added:   len(feats),
		Total:   len(fc.Features),
		Bytes:   n,
		Created: created,
	}, nil
}

// writeTile replaces the tile file through a temp file in the same directory.
func (s *Store) writeTile(k tile.Key, path string, fc *geojson.FeatureCollection) (int64, error) {
	fail := func(op string, err error) (int64, error) {
		return 0, &TileError{Key: k, Path: path, Op: op, Err: err}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fail("encode", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.level)
	if err != nil {
		return fail("compress", err)
	}
	if _, err := zw.Write(data); err != nil {
		return fail("compress", err)
	}
	if err := zw.Close(); err != nil {
		return fail("compress", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail("mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fail("create", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fail("write", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return fail("rename", err)
	}
	committed = true

	return int64(buf.Len()), nil
}

// lock serialises writers of the same path. Paths share a bounded set of stripes.
func (s *Store) lock(path string) func() {
	mu := &s.locks[city.Hash64([]byte(path))%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// ReadTile decodes a tile file. Missing files return an error matching fs.ErrNotExist;
// undecodable content returns an error matching ErrCorruptTile.
func ReadTile(path string) (*geojson.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %v", ErrCorruptTile, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptTile, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: document type %q", ErrCorruptTile, fc.Type)
	}
	if fc.Features == nil {
		return nil, fmt.Errorf("%w: missing features member", ErrCorruptTile)
	}
	return fc, nil
}
