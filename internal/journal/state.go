package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// State records the last successful run against a pyramid
type State struct {
	Runs      int64 // Successful runs so far
	RunID     string
	Input     string
	InputSize int64
	Tiled     int64
	Timestamp time.Time
}

func (s State) String() string {
	return fmt.Sprintf("Run %d (%s), input %s, %d records, at %s",
		s.Runs, s.RunID, s.Input, s.Tiled, s.Timestamp.Format(time.RFC3339))
}

// SameInput reports whether path with the given size was the last input tiled.
// Tiles are append-only, so tiling the same input again duplicates its features.
func (s *State) SameInput(path string, size int64) bool {
	if s == nil || s.Input == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return s.Input == abs && s.InputSize == size
}

// Parse reads a state file
//
//	# comment line
//	runs=3
//	run_id=0b9c...
//	input=/data/observations.csv
//	input_size=123456
//	tiled=1000
//	timestamp=2024-01-15T12:00:00Z
func Parse(r io.Reader) (*State, error) {
	state := &State{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "runs":
			state.Runs, err = strconv.ParseInt(value, 10, 64)
		case "run_id":
			state.RunID = value
		case "input":
			state.Input = value
		case "input_size":
			state.InputSize, err = strconv.ParseInt(value, 10, 64)
		case "tiled":
			state.Tiled, err = strconv.ParseInt(value, 10, 64)
		case "timestamp":
			state.Timestamp, err = time.Parse(time.RFC3339, value)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading state: %w", err)
	}
	return state, nil
}

// Load reads a state file. A missing file yields a zero state.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Write serialises a state
func Write(w io.Writer, s *State) error {
	_, err := fmt.Fprintf(w, "# pointtiles pyramid state\nruns=%d\nrun_id=%s\ninput=%s\ninput_size=%d\ntiled=%d\ntimestamp=%s\n",
		s.Runs, s.RunID, s.Input, s.InputSize, s.Tiled, s.Timestamp.UTC().Format(time.RFC3339))
	return err
}

// Record stores a completed run at path, bumping the run counter of prev
func Record(path string, prev *State, runID, input string, inputSize, tiled int64) (*State, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		abs = input
	}
	next := &State{
		RunID:     runID,
		Input:     abs,
		InputSize: inputSize,
		Tiled:     tiled,
		Timestamp: time.Now(),
	}
	if prev != nil {
		next.Runs = prev.Runs
	}
	next.Runs++

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to write state: %w", err)
	}
	if err := Write(f, next); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write state: %w", err)
	}
	return next, nil
}
