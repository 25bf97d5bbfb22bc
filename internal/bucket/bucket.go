package bucket

import (
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/pointtiles-go/internal/point"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

// Batch maps tiles to the features waiting to be merged into them, in arrival order.
type Batch map[tile.Key][]*geojson.Feature

// Keys returns the batch keys in zoom/x/y order.
func (b Batch) Keys() []tile.Key {
	keys := make([]tile.Key, 0, len(b))
	for k, feats := range b {
		if len(feats) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Features returns the total number of features across all tiles.
func (b Batch) Features() int {
	n := 0
	for _, feats := range b {
		n += len(feats)
	}
	return n
}

// Buckets accumulates records per tile between flushes.
// It is owned by a single goroutine and is not safe for concurrent use.
type Buckets struct {
	tiles    Batch
	records  int
	features int
}

// New creates an empty bucket set
func New() *Buckets {
	return &Buckets{tiles: make(Batch)}
}

// Absorb appends the record to its tile bucket at every zoom in [minZoom, maxZoom]
// and returns the number of insertions. One feature value is shared by all zooms.
func (b *Buckets) Absorb(rec point.Record, minZoom, maxZoom int) int {
	keys := tile.ForZooms(rec.Lon, rec.Lat, minZoom, maxZoom)
	if len(keys) == 0 {
		return 0
	}
	f := rec.Feature()
	for _, k := range keys {
		b.tiles[k] = append(b.tiles[k], f)
	}
	b.records++
	b.features += len(keys)
	return len(keys)
}

// Records returns the number of records absorbed since the last reset.
func (b *Buckets) Records() int {
	return b.records
}

// Features returns the number of bucket insertions since the last reset.
func (b *Buckets) Features() int {
	return b.features
}

// Len returns the number of tiles holding buffered features.
func (b *Buckets) Len() int {
	return len(b.tiles)
}

// Batch exposes the buffered tiles. The map stays owned by the bucket set.
func (b *Buckets) Batch() Batch {
	return b.tiles
}

// Reset drops every buffered tile.
func (b *Buckets) Reset() {
	b.tiles = make(Batch)
	b.records = 0
	b.features = 0
}
