package parquet

import (
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/parquet/file"

	"github.com/wegman-software/pointtiles-go/internal/store"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

func TestInventoryWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.parquet")

	w, err := NewInventoryWriter(path, "run-1")
	if err != nil {
		t.Fatalf("NewInventoryWriter failed: %v", err)
	}

	first := &store.FlushResult{Tiles: []store.TileResult{
		{Key: tile.Key{Z: 5, X: 16, Y: 11}, Path: "tiles/5/16/11.geojson.gz", Added: 2, Total: 2, Bytes: 180, Created: true},
		{Key: tile.Key{Z: 6, X: 33, Y: 22}, Path: "tiles/6/33/22.geojson.gz", Added: 2, Total: 2, Bytes: 181, Created: true},
	}}
	second := &store.FlushResult{Tiles: []store.TileResult{
		{Key: tile.Key{Z: 5, X: 16, Y: 11}, Path: "tiles/5/16/11.geojson.gz", Added: 1, Total: 3, Bytes: 210},
	}}

	if err := w.WriteFlush(1, first); err != nil {
		t.Fatalf("WriteFlush failed: %v", err)
	}
	if err := w.WriteFlush(2, second); err != nil {
		t.Fatalf("WriteFlush failed: %v", err)
	}
	if err := w.WriteFlush(3, &store.FlushResult{}); err != nil {
		t.Fatalf("empty flush should be a no-op: %v", err)
	}
	if w.Rows() != 3 {
		t.Errorf("Rows = %d, want 3", w.Rows())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile failed: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 3 {
		t.Errorf("NumRows = %d, want 3", r.NumRows())
	}
	if n := r.MetaData().Schema.NumColumns(); n != len(InventorySchema.Fields()) {
		t.Errorf("NumColumns = %d, want %d", n, len(InventorySchema.Fields()))
	}
}
