package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/wegman-software/pointtiles-go/internal/point"
)

// CSVReader streams rows from a CSV file with a header line.
type CSVReader struct {
	r      *csv.Reader
	closer io.Closer
	header map[string]int
	count  *countingReader
}

// OpenCSV opens a CSV file for streaming. When wrap is non-nil the file is
// read through the reader it returns.
func OpenCSV(path string, wrap func(io.Reader) io.Reader) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	var src io.Reader = f
	if wrap != nil {
		src = wrap(f)
	}
	r, err := NewCSVReader(src)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewCSVReader reads the header line from r and prepares to stream rows.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := &countingReader{r: r}
	c := csv.NewReader(cr)
	c.FieldsPerRecord = -1
	c.ReuseRecord = false

	names, err := c.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("input has no header line")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := make(map[string]int, len(names))
	for i, n := range names {
		n = strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))
		if _, dup := header[n]; !dup {
			header[n] = i
		}
	}

	return &CSVReader{r: c, header: header, count: cr}, nil
}

// Missing returns the named columns absent from the header.
func (c *CSVReader) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := c.header[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Next returns the next row, io.EOF at the end of input.
// Rows the CSV parser rejects come back wrapped in point.ErrMalformedRow.
func (c *CSVReader) Next() (point.Row, error) {
	values, err := c.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %v", point.ErrMalformedRow, err)
		}
		return nil, err
	}
	return csvRow{header: c.header, values: values}, nil
}

// BytesRead returns how many input bytes have been consumed so far.
func (c *CSVReader) BytesRead() int64 {
	return c.count.n.Load()
}

// Close closes the underlying file when the reader owns it.
func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

type csvRow struct {
	header map[string]int
	values []string
}

func (r csvRow) Get(name string) (string, bool) {
	i, ok := r.header[name]
	if !ok || i >= len(r.values) {
		return "", false
	}
	return r.values[i], true
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
