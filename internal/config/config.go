package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/pointtiles-go/internal/filter"
	"github.com/wegman-software/pointtiles-go/internal/point"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

// DefaultKeepFields are the property columns copied into every feature unless configured otherwise.
var DefaultKeepFields = []string{
	"observation_uuid",
	"taxon_id",
	"quality_grade",
	"observed_on",
	"observer_id",
	"positional_accuracy",
}

// Config holds the configuration for a tiling run
type Config struct {
	// Input settings
	InputFile  string
	LatField   string
	LonField   string
	KeepFields []string

	// Output settings
	OutputDir        string
	Ext              string // Tile file extension, without the leading dot
	CompressionLevel int    // gzip level (-1 = library default)

	// Tiling settings
	MinZoom   int
	MaxZoom   int
	BatchSize int // Accepted records per flush cycle
	Workers   int // Tiles merged in parallel during a flush

	// Record selection
	Filter   filter.Config // Property filter rules
	HookFile string        // Lua script with a process_record function

	// Side outputs
	ExpireOutput    string // Path of the touched tiles list (z/x/y per line)
	ExpireAppend    bool   // Append to ExpireOutput instead of replacing it
	InventoryOutput string // Path of the Parquet tile inventory
	StateFile       string // Path of the run journal

	// Logging, progress and metrics
	Verbose          bool
	LogFile          string
	Progress         bool          // Draw a terminal progress bar
	ProgressInterval time.Duration // Interval for progress log lines
	MetricsInterval  time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LatField:         "latitude",
		LonField:         "longitude",
		KeepFields:       append([]string(nil), DefaultKeepFields...),
		OutputDir:        "tiles",
		Ext:              "geojson.gz",
		CompressionLevel: -1,
		MinZoom:          5,
		MaxZoom:          12,
		BatchSize:        200000,
		Workers:          runtime.NumCPU(),
		ProgressInterval: 10 * time.Second,
		MetricsInterval:  30 * time.Second,
	}
}

// Schema returns the record schema derived from the field settings
func (c *Config) Schema() point.Schema {
	return point.Schema{
		LatField:   c.LatField,
		LonField:   c.LonField,
		KeepFields: c.KeepFields,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.Ext == "" || strings.ContainsAny(c.Ext, `/\`) || strings.HasPrefix(c.Ext, ".") {
		return fmt.Errorf("invalid tile extension %q", c.Ext)
	}
	if c.MinZoom < 0 || c.MaxZoom > tile.MaxZoom {
		return fmt.Errorf("zoom range must lie within 0..%d", tile.MaxZoom)
	}
	if c.MaxZoom < c.MinZoom {
		return fmt.Errorf("max zoom (%d) must be >= min zoom (%d)", c.MaxZoom, c.MinZoom)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.CompressionLevel < -1 || c.CompressionLevel > 9 {
		return fmt.Errorf("compression level must be between -1 and 9")
	}
	if strings.TrimSpace(c.LatField) == "" || strings.TrimSpace(c.LonField) == "" {
		return fmt.Errorf("latitude and longitude field names are required")
	}
	seen := make(map[string]bool, len(c.KeepFields))
	for _, f := range c.KeepFields {
		if seen[f] {
			return fmt.Errorf("keep field %q listed twice", f)
		}
		seen[f] = true
	}
	return nil
}

// ParseFields splits a comma separated column list, dropping blanks.
func ParseFields(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// File is the YAML profile. Unset keys leave the corresponding option alone.
type File struct {
	OutputDir        *string        `yaml:"output_dir"`
	Ext              *string        `yaml:"ext"`
	CompressionLevel *int           `yaml:"compression_level"`
	MinZoom          *int           `yaml:"min_zoom"`
	MaxZoom          *int           `yaml:"max_zoom"`
	BatchSize        *int           `yaml:"batch_size"`
	Workers          *int           `yaml:"workers"`
	LatField         *string        `yaml:"lat_field"`
	LonField         *string        `yaml:"lon_field"`
	KeepFields       []string       `yaml:"keep_fields"`
	Filter           *filter.Config `yaml:"filter"`
	Hook             *string        `yaml:"hook"`
	ExpireOutput     *string        `yaml:"expire_output"`
	ExpireAppend     *bool          `yaml:"expire_append"`
	InventoryOutput  *string        `yaml:"inventory_output"`
	StateFile        *string        `yaml:"state_file"`
}

// LoadFile reads a YAML profile
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &f, nil
}

// Apply copies profile values into c. explicit reports whether a CLI flag was set
// by the user, in which case the flag wins over the profile.
func (c *Config) Apply(f *File, explicit func(flag string) bool) {
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	setString := func(flag string, dst *string, v *string) {
		if v != nil && !explicit(flag) {
			*dst = *v
		}
	}
	setInt := func(flag string, dst *int, v *int) {
		if v != nil && !explicit(flag) {
			*dst = *v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if v != nil && !explicit(flag) {
			*dst = *v
		}
	}

	setString("output-dir", &c.OutputDir, f.OutputDir)
	setString("ext", &c.Ext, f.Ext)
	setInt("compression-level", &c.CompressionLevel, f.CompressionLevel)
	setInt("min-zoom", &c.MinZoom, f.MinZoom)
	setInt("max-zoom", &c.MaxZoom, f.MaxZoom)
	setInt("batch", &c.BatchSize, f.BatchSize)
	setInt("workers", &c.Workers, f.Workers)
	setString("lat-col", &c.LatField, f.LatField)
	setString("lon-col", &c.LonField, f.LonField)
	setString("hook", &c.HookFile, f.Hook)
	setString("expire-output", &c.ExpireOutput, f.ExpireOutput)
	setBool("expire-append", &c.ExpireAppend, f.ExpireAppend)
	setString("inventory", &c.InventoryOutput, f.InventoryOutput)
	setString("state-file", &c.StateFile, f.StateFile)

	if f.KeepFields != nil && !explicit("keep-cols") {
		c.KeepFields = append([]string(nil), f.KeepFields...)
	}
	if f.Filter != nil {
		c.Filter = *f.Filter
	}
}
