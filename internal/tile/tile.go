package tile

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Web Mercator latitude limits. Latitudes beyond them are clamped, not rejected.
const (
	MaxMercatorLat = 85.05112878
	MinMercatorLat = -85.05112878
)

// MaxZoom is the deepest zoom level a Key can address.
const MaxZoom = 30

// Key identifies a tile within the pyramid.
type Key struct {
	Z int // Zoom level
	X int // Column
	Y int // Row, north to south
}

// String returns the tile in z/x/y format
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Valid reports whether the key addresses a tile that exists at its zoom level.
func (k Key) Valid() bool {
	if k.Z < 0 || k.Z > MaxZoom {
		return false
	}
	n := 1 << k.Z
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Maptile converts the key to orb's tile type.
func (k Key) Maptile() maptile.Tile {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z))
}

// Bound returns the geographic extent of the tile.
func (k Key) Bound() orb.Bound {
	return k.Maptile().Bound()
}

// Path returns the tile file location below root: {root}/{z}/{x}/{y}.{ext}
func (k Key) Path(root, ext string) string {
	return filepath.Join(root, strconv.Itoa(k.Z), strconv.Itoa(k.X), strconv.Itoa(k.Y)+"."+ext)
}

// Less orders keys by zoom, then column, then row.
func (k Key) Less(o Key) bool {
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Y < o.Y
}

// For converts a longitude/latitude pair to the tile containing it at zoom.
// Uses the standard Web Mercator tile scheme (OSM/Google style).
func For(lon, lat float64, zoom int) Key {
	if lat > MaxMercatorLat {
		lat = MaxMercatorLat
	}
	if lat < MinMercatorLat {
		lat = MinMercatorLat
	}

	n := 1 << zoom
	scale := float64(n)

	x := int(math.Floor((lon + 180.0) / 360.0 * scale))

	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * scale))

	return Key{Z: zoom, X: clamp(x, n), Y: clamp(y, n)}
}

// ForZooms returns the tile containing the point at every zoom in [minZoom, maxZoom].
func ForZooms(lon, lat float64, minZoom, maxZoom int) []Key {
	if maxZoom < minZoom {
		return nil
	}
	keys := make([]Key, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		keys = append(keys, For(lon, lat, z))
	}
	return keys
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// ParsePath recovers the key from a tile file path relative to the pyramid root.
func ParsePath(rel, ext string) (Key, error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("tile path %q: want z/x/y.%s", rel, ext)
	}
	name := parts[2]
	if !strings.HasSuffix(name, "."+ext) {
		return Key{}, fmt.Errorf("tile path %q: missing .%s extension", rel, ext)
	}
	parts[2] = strings.TrimSuffix(name, "."+ext)

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Key{}, fmt.Errorf("tile path %q: %w", rel, err)
		}
		vals[i] = v
	}

	k := Key{Z: vals[0], X: vals[1], Y: vals[2]}
	if !k.Valid() {
		return Key{}, fmt.Errorf("tile path %q: %s is out of range", rel, k)
	}
	return k, nil
}
