package point

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Skippable row errors. A row failing with one of these is dropped and the run continues.
var (
	ErrMissingCoordinate = errors.New("missing coordinate")
	ErrInvalidCoordinate = errors.New("non-numeric coordinate")
	ErrOutOfRange        = errors.New("coordinate out of range")
	ErrMalformedRow      = errors.New("malformed row")
)

// Row is one input row exposing named fields.
type Row interface {
	Get(name string) (string, bool)
}

// MapRow is a Row backed by a plain map, mostly useful in tests and hooks.
type MapRow map[string]string

// Get returns the named field
func (m MapRow) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Schema names the coordinate fields and the property fields copied into every record.
type Schema struct {
	LatField   string
	LonField   string
	KeepFields []string
}

// Record is one validated input observation.
type Record struct {
	Lon        float64
	Lat        float64
	Properties map[string]string
}

// FromRow validates a row against the schema and builds a record from it.
// Property fields absent from the row become empty strings.
func FromRow(row Row, schema Schema) (Record, error) {
	lat, err := coordinate(row, schema.LatField)
	if err != nil {
		return Record{}, err
	}
	lon, err := coordinate(row, schema.LonField)
	if err != nil {
		return Record{}, err
	}

	// Written as negated ranges so NaN fails too.
	if !(lat >= -90 && lat <= 90) || !(lon >= -180 && lon <= 180) {
		return Record{}, fmt.Errorf("%w: lon=%v lat=%v", ErrOutOfRange, lon, lat)
	}

	props := make(map[string]string, len(schema.KeepFields))
	for _, k := range schema.KeepFields {
		v, _ := row.Get(k)
		// Invalid bytes would otherwise encode differently on first write and after a merge.
		props[k] = strings.ToValidUTF8(v, "\uFFFD")
	}

	return Record{Lon: lon, Lat: lat, Properties: props}, nil
}

func coordinate(row Row, field string) (float64, error) {
	raw, ok := row.Get(field)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingCoordinate, field)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidCoordinate, field, raw)
	}
	return v, nil
}

// Feature converts the record into a GeoJSON point feature.
func (r Record) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{r.Lon, r.Lat})
	for k, v := range r.Properties {
		f.Properties[k] = v
	}
	return f
}

// SkipReason classifies a skippable error for reporting.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCoordinate):
		return "missing_coordinate"
	case errors.Is(err, ErrInvalidCoordinate):
		return "invalid_coordinate"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrMalformedRow):
		return "malformed_row"
	}
	return ""
}
