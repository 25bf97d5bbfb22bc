package expire

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/pointtiles-go/internal/logger"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

// Tracker collects the tiles written during a run so caches can invalidate them
type Tracker struct {
	mu    sync.Mutex
	tiles map[tile.Key]struct{}
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		tiles: make(map[tile.Key]struct{}),
	}
}

// Add marks tiles as touched. Duplicates are ignored.
func (t *Tracker) Add(keys ...tile.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range keys {
		t.tiles[k] = struct{}{}
	}
}

// Count returns the number of unique touched tiles
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tiles)
}

// CountByZoom returns the count of tiles at each zoom level
func (t *Tracker) CountByZoom() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[int]int)
	for k := range t.tiles {
		counts[k.Z]++
	}
	return counts
}

// GetTiles returns all touched tiles ordered by zoom, x, y
func (t *Tracker) GetTiles() []tile.Key {
	t.mu.Lock()
	keys := make([]tile.Key, 0, len(t.tiles))
	for k := range t.tiles {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	slices.SortFunc(keys, func(a, b tile.Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// WriteToFile writes touched tiles to a file in z/x/y format, one per line,
// replacing any previous content. The file is created even when no tile was touched.
func (t *Tracker) WriteToFile(filename string) error {
	return t.save(filename, os.O_TRUNC)
}

// AppendToFile appends touched tiles to a file, creating it if needed
func (t *Tracker) AppendToFile(filename string) error {
	return t.save(filename, os.O_APPEND)
}

func (t *Tracker) save(filename string, mode int) error {
	keys := t.GetTiles()
	f, err := os.OpenFile(filename, mode|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open expire file: %w", err)
	}
	if err := writeKeys(f, keys); err != nil {
		f.Close()
		return fmt.Errorf("failed to write expire file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close expire file: %w", err)
	}

	stats := t.GetStats()
	zooms := make([]int, 0, len(stats.TilesByZoom))
	for z := range stats.TilesByZoom {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	fields := make([]zap.Field, 0, len(zooms)+5)
	fields = append(fields, zap.String("file", filename), zap.Bool("append", mode == os.O_APPEND))
	for _, z := range zooms {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), stats.TilesByZoom[z]))
	}
	fields = append(fields,
		zap.Int("min_zoom", stats.MinZoom),
		zap.Int("max_zoom", stats.MaxZoom),
		zap.Int("total", stats.TotalTiles))

	logger.Get().Info("Wrote expire tiles", fields...)
	return nil
}

func writeKeys(f *os.File, keys []tile.Key) error {
	w := bufio.NewWriter(f)
	for _, k := range keys {
		fmt.Fprintln(w, k.String())
	}
	return w.Flush()
}

// Stats summarises tracked tiles
type Stats struct {
	TotalTiles  int
	TilesByZoom map[int]int
	MinZoom     int
	MaxZoom     int
}

// GetStats returns statistics about tracked tiles. Zoom bounds are -1 when empty.
func (t *Tracker) GetStats() Stats {
	counts := t.CountByZoom()
	stats := Stats{
		TilesByZoom: counts,
		MinZoom:     -1,
		MaxZoom:     -1,
	}
	for z, n := range counts {
		stats.TotalTiles += n
		if stats.MinZoom < 0 || z < stats.MinZoom {
			stats.MinZoom = z
		}
		if z > stats.MaxZoom {
			stats.MaxZoom = z
		}
	}
	return stats
}
