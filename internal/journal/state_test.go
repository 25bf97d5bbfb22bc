package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantRuns int64
		wantTS   time.Time
		wantErr  bool
	}{
		{
			name: "full state",
			input: `# pointtiles pyramid state
runs=3
run_id=abc
input=/data/obs.csv
input_size=1024
tiled=10
timestamp=2024-01-15T12:00:00Z`,
			wantRuns: 3,
			wantTS:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "extra whitespace and unknown keys",
			input:    "  runs = 7  \n  colour = blue\n",
			wantRuns: 7,
		},
		{name: "invalid runs", input: "runs=many", wantErr: true},
		{name: "invalid timestamp", input: "timestamp=yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Runs != tt.wantRuns {
				t.Errorf("Runs = %d, want %d", s.Runs, tt.wantRuns)
			}
			if !s.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", s.Timestamp, tt.wantTS)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "pyramid.state"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Runs != 0 || s.SameInput("obs.csv", 0) {
		t.Errorf("missing state should be empty: %+v", s)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "obs.csv")
	path := filepath.Join(dir, "pyramid.state")

	first, err := Record(path, nil, "run-1", input, 100, 5)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if first.Runs != 1 {
		t.Errorf("Runs = %d, want 1", first.Runs)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.Tiled != 5 || loaded.Input != input {
		t.Errorf("loaded state = %+v", loaded)
	}
	if !loaded.SameInput(input, 100) {
		t.Error("same path and size should match")
	}
	if loaded.SameInput(input, 101) {
		t.Error("a different size should not match")
	}

	second, err := Record(path, loaded, "run-2", input, 100, 5)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if second.Runs != 2 {
		t.Errorf("Runs = %d, want 2", second.Runs)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp state file left behind")
	}
}
