package bucket

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/pointtiles-go/internal/point"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

func record(lon, lat float64, id string) point.Record {
	return point.Record{Lon: lon, Lat: lat, Properties: map[string]string{"observation_uuid": id}}
}

func TestAbsorbReplicatesAcrossZooms(t *testing.T) {
	b := New()
	n := b.Absorb(record(8.5, 47.0, "a"), 5, 7)
	if n != 3 {
		t.Fatalf("Absorb returned %d insertions, want 3", n)
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 distinct tiles, got %d", b.Len())
	}
	if b.Records() != 1 || b.Features() != 3 {
		t.Errorf("Records=%d Features=%d, want 1 and 3", b.Records(), b.Features())
	}

	zooms := make(map[int]bool)
	p := orb.Point{8.5, 47.0}
	for k, feats := range b.Batch() {
		zooms[k.Z] = true
		if len(feats) != 1 {
			t.Errorf("tile %s has %d features, want 1", k, len(feats))
		}
		if !k.Bound().Contains(p) {
			t.Errorf("tile %s does not contain %v", k, p)
		}
		if got := feats[0].Geometry.(orb.Point); got != p {
			t.Errorf("tile %s feature at %v, want %v", k, got, p)
		}
	}
	for z := 5; z <= 7; z++ {
		if !zooms[z] {
			t.Errorf("missing tile at zoom %d", z)
		}
	}
	for _, k := range tile.ForZooms(8.5, 47.0, 5, 7) {
		if _, ok := b.Batch()[k]; !ok {
			t.Errorf("bucket keys do not include %s", k)
		}
	}
}

func TestAbsorbDoesNotDeduplicate(t *testing.T) {
	b := New()
	rec := record(8.5, 47.0, "same")
	b.Absorb(rec, 6, 6)
	b.Absorb(rec, 6, 6)

	k := tile.For(8.5, 47.0, 6)
	if got := len(b.Batch()[k]); got != 2 {
		t.Errorf("expected duplicate insertions, tile %s has %d features", k, got)
	}
}

func TestAbsorbPreservesOrder(t *testing.T) {
	b := New()
	ids := []string{"first", "second", "third"}
	for _, id := range ids {
		b.Absorb(record(8.5, 47.0, id), 4, 4)
	}

	feats := b.Batch()[tile.For(8.5, 47.0, 4)]
	if len(feats) != len(ids) {
		t.Fatalf("expected %d features, got %d", len(ids), len(feats))
	}
	for i, id := range ids {
		if feats[i].Properties["observation_uuid"] != id {
			t.Errorf("position %d holds %v, want %s", i, feats[i].Properties["observation_uuid"], id)
		}
	}
}

func TestAbsorbInvertedRange(t *testing.T) {
	b := New()
	if n := b.Absorb(record(0, 0, "x"), 7, 5); n != 0 {
		t.Errorf("expected no insertions, got %d", n)
	}
	if b.Records() != 0 || b.Len() != 0 {
		t.Errorf("inverted range must not count the record")
	}
}

func TestReset(t *testing.T) {
	b := New()
	b.Absorb(record(8.5, 47.0, "a"), 0, 3)
	held := b.Batch()
	b.Reset()

	if b.Len() != 0 || b.Records() != 0 || b.Features() != 0 {
		t.Errorf("Reset left Len=%d Records=%d Features=%d", b.Len(), b.Records(), b.Features())
	}
	if len(held) != 4 {
		t.Errorf("batch handed out before Reset should stay intact, has %d tiles", len(held))
	}
}

func TestBatchKeysSorted(t *testing.T) {
	b := New()
	b.Absorb(record(8.5, 47.0, "a"), 2, 4)
	b.Absorb(record(-74.0, 40.7, "b"), 2, 4)

	batch := b.Batch()
	keys := batch.Keys()
	if len(keys) != 6 {
		t.Fatalf("expected 6 distinct tiles, got %d", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if !keys[i-1].Less(keys[i]) {
			t.Errorf("keys not sorted: %s before %s", keys[i-1], keys[i])
		}
	}
	if batch.Features() != 6 {
		t.Errorf("Features = %d, want 6", batch.Features())
	}
}
