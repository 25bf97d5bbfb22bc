package point

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

var testSchema = Schema{
	LatField:   "latitude",
	LonField:   "longitude",
	KeepFields: []string{"observation_uuid", "quality_grade"},
}

func TestFromRow(t *testing.T) {
	tests := []struct {
		name    string
		row     MapRow
		wantErr error
		wantLon float64
		wantLat float64
	}{
		{
			name:    "valid row",
			row:     MapRow{"latitude": "47.0", "longitude": "8.5", "observation_uuid": "a"},
			wantLon: 8.5,
			wantLat: 47.0,
		},
		{
			name:    "surrounding whitespace",
			row:     MapRow{"latitude": " 47.01 ", "longitude": "\t8.51"},
			wantLon: 8.51,
			wantLat: 47.01,
		},
		{
			name:    "range limits are inclusive",
			row:     MapRow{"latitude": "-90", "longitude": "180"},
			wantLon: 180,
			wantLat: -90,
		},
		{
			name:    "missing latitude column",
			row:     MapRow{"longitude": "8.5"},
			wantErr: ErrMissingCoordinate,
		},
		{
			name:    "empty longitude",
			row:     MapRow{"latitude": "47", "longitude": ""},
			wantErr: ErrMissingCoordinate,
		},
		{
			name:    "non-numeric latitude",
			row:     MapRow{"latitude": "north", "longitude": "8.5"},
			wantErr: ErrInvalidCoordinate,
		},
		{
			name:    "longitude out of range",
			row:     MapRow{"latitude": "10", "longitude": "200"},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "latitude out of range",
			row:     MapRow{"latitude": "-90.5", "longitude": "0"},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "NaN latitude",
			row:     MapRow{"latitude": "NaN", "longitude": "0"},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "infinite longitude",
			row:     MapRow{"latitude": "0", "longitude": "-Inf"},
			wantErr: ErrOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := FromRow(tt.row, testSchema)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Lon != tt.wantLon || rec.Lat != tt.wantLat {
				t.Errorf("got (%v, %v), want (%v, %v)", rec.Lon, rec.Lat, tt.wantLon, tt.wantLat)
			}
		})
	}
}

func TestFromRowFillsMissingProperties(t *testing.T) {
	row := MapRow{"latitude": "47", "longitude": "8", "observation_uuid": "abc", "extra": "dropped"}
	rec, err := FromRow(row, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d: %v", len(rec.Properties), rec.Properties)
	}
	if rec.Properties["observation_uuid"] != "abc" {
		t.Errorf("observation_uuid = %q, want %q", rec.Properties["observation_uuid"], "abc")
	}
	v, ok := rec.Properties["quality_grade"]
	if !ok || v != "" {
		t.Errorf("quality_grade = %q (present=%v), want empty string", v, ok)
	}
	if _, ok := rec.Properties["extra"]; ok {
		t.Error("fields outside the schema must not be copied")
	}
}

func TestFromRowReplacesInvalidUTF8(t *testing.T) {
	row := MapRow{"latitude": "47", "longitude": "8", "observation_uuid": "a\xff\xfe", "quality_grade": "ok"}
	rec, err := FromRow(row, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := rec.Properties["observation_uuid"], "a\uFFFD"; got != want {
		t.Errorf("observation_uuid = %q, want %q", got, want)
	}
	if got := rec.Properties["quality_grade"]; got != "ok" {
		t.Errorf("quality_grade = %q, want %q", got, "ok")
	}
}

func TestRecordFeature(t *testing.T) {
	rec := Record{Lon: 8.5, Lat: 47, Properties: map[string]string{"taxon_id": "42"}}
	f := rec.Feature()

	p, ok := f.Geometry.(orb.Point)
	if !ok {
		t.Fatalf("geometry is %T, want orb.Point", f.Geometry)
	}
	if p.Lon() != 8.5 || p.Lat() != 47 {
		t.Errorf("coordinates = %v, want [8.5 47]", p)
	}
	if f.Properties["taxon_id"] != "42" {
		t.Errorf("taxon_id = %v, want 42", f.Properties["taxon_id"])
	}
}

func TestSkipReason(t *testing.T) {
	_, err := FromRow(MapRow{"latitude": "x", "longitude": "1"}, testSchema)
	if got := SkipReason(err); got != "invalid_coordinate" {
		t.Errorf("SkipReason = %q, want invalid_coordinate", got)
	}
	if got := SkipReason(errors.New("boom")); got != "" {
		t.Errorf("SkipReason of unrelated error = %q, want empty", got)
	}
}
