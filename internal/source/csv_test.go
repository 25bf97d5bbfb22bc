package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wegman-software/pointtiles-go/internal/point"
)

func TestCSVReaderRows(t *testing.T) {
	input := " latitude , longitude,taxon_id\n47.0,8.5,42\n47.01,8.51\n"
	r, err := NewCSVReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVReader failed: %v", err)
	}

	row, err := r.Next()
	if err != nil {
		t.Fatalf("first row: %v", err)
	}
	if v, ok := row.Get("latitude"); !ok || v != "47.0" {
		t.Errorf("latitude = %q (ok=%v), want 47.0", v, ok)
	}
	if v, ok := row.Get("taxon_id"); !ok || v != "42" {
		t.Errorf("taxon_id = %q (ok=%v), want 42", v, ok)
	}

	row, err = r.Next()
	if err != nil {
		t.Fatalf("second row: %v", err)
	}
	if _, ok := row.Get("taxon_id"); ok {
		t.Error("short row should report taxon_id as absent")
	}
	if _, ok := row.Get("unknown"); ok {
		t.Error("unknown column should be absent")
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
	if r.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", r.BytesRead(), len(input))
	}
}

func TestCSVReaderMalformedRowIsSkippable(t *testing.T) {
	input := "latitude,longitude\n1,\"2\n3,4\n"
	r, err := NewCSVReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVReader failed: %v", err)
	}
	_, err = r.Next()
	if !errors.Is(err, point.ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}

func TestCSVReaderHeader(t *testing.T) {
	if _, err := NewCSVReader(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}

	r, err := NewCSVReader(strings.NewReader("\ufefflatitude,longitude\n"))
	if err != nil {
		t.Fatalf("NewCSVReader failed: %v", err)
	}
	if missing := r.Missing("latitude", "longitude", "taxon_id"); len(missing) != 1 || missing[0] != "taxon_id" {
		t.Errorf("Missing = %v, want [taxon_id]", missing)
	}
}

func TestOpenCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.csv")
	data := "latitude,longitude\n1,2\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		wrapped bool
	}{
		{name: "plain file"},
		{name: "wrapped reader", wrapped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var proxied int
			var wrap func(io.Reader) io.Reader
			if tt.wrapped {
				wrap = func(r io.Reader) io.Reader {
					proxied++
					return r
				}
			}

			r, err := OpenCSV(path, wrap)
			if err != nil {
				t.Fatalf("OpenCSV failed: %v", err)
			}

			row, err := r.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if v, _ := row.Get("longitude"); v != "2" {
				t.Errorf("longitude = %q, want 2", v)
			}
			if _, err := r.Next(); err != io.EOF {
				t.Errorf("second Next error = %v, want io.EOF", err)
			}
			if r.BytesRead() != int64(len(data)) {
				t.Errorf("BytesRead = %d, want %d", r.BytesRead(), len(data))
			}
			if tt.wrapped && proxied != 1 {
				t.Errorf("wrap called %d times, want 1", proxied)
			}

			if err := r.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := r.Close(); err == nil {
				t.Error("expected error closing twice")
			}
		})
	}

	if _, err := OpenCSV(filepath.Join(t.TempDir(), "missing.csv"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCloseWithoutFile(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader("latitude,longitude\n"))
	if err != nil {
		t.Fatalf("NewCSVReader failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close = %v, want nil for a reader that owns no file", err)
	}
}
