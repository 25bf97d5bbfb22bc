package store

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wegman-software/pointtiles-go/internal/tile"
)

// ZoomSummary counts the tiles and features at one zoom level
type ZoomSummary struct {
	Zoom     int
	Tiles    int
	Features int64
	Bytes    int64
}

// Summary describes an existing tile pyramid
type Summary struct {
	Zooms   []ZoomSummary // Sorted by zoom
	Corrupt []*TileError
	Ignored int // Files that are not tiles of this pyramid
}

// Tiles returns the number of readable tiles
func (s *Summary) Tiles() int {
	n := 0
	for _, z := range s.Zooms {
		n += z.Tiles
	}
	return n
}

// Survey walks a pyramid rooted at root and decodes every tile file with the
// given extension. Corrupt tiles are collected rather than returned as errors.
func Survey(root, ext string) (*Summary, error) {
	if ext == "" {
		ext = "geojson.gz"
	}

	zooms := make(map[int]*ZoomSummary)
	out := &Summary{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		k, err := tile.ParsePath(rel, ext)
		if err != nil {
			out.Ignored++
			return nil
		}

		fc, err := ReadTile(path)
		if err != nil {
			out.Corrupt = append(out.Corrupt, &TileError{Key: k, Path: path, Op: "decode", Err: err})
			return nil
		}

		z, ok := zooms[k.Z]
		if !ok {
			z = &ZoomSummary{Zoom: k.Z}
			zooms[k.Z] = z
		}
		z.Tiles++
		z.Features += int64(len(fc.Features))
		if info, err := d.Info(); err == nil {
			z.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, z := range zooms {
		out.Zooms = append(out.Zooms, *z)
	}
	sort.Slice(out.Zooms, func(i, j int) bool { return out.Zooms[i].Zoom < out.Zooms[j].Zoom })
	return out, nil
}
