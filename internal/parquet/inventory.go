package parquet

import (
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/pointtiles-go/internal/store"
)

// InventorySchema is the column layout of a tile inventory file
var InventorySchema = arrow.NewSchema([]arrow.Field{
	{Name: "flush", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "z", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "x", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "y", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "path", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "features_added", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "features_total", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "compressed_bytes", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "created", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
	{Name: "run_id", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// InventoryWriter records every tile write of a run to a Parquet file
type InventoryWriter struct {
	file    *os.File
	writer  *pqarrow.FileWriter
	builder *array.RecordBuilder
	runID   string
	rows    int64
}

// NewInventoryWriter creates the inventory file at path
func NewInventoryWriter(path, runID string) (*InventoryWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(InventorySchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create inventory writer: %w", err)
	}

	return &InventoryWriter{
		file:    f,
		writer:  writer,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, InventorySchema),
		runID:   runID,
	}, nil
}

// WriteFlush appends one row per tile of a flush result
func (w *InventoryWriter) WriteFlush(seq int, res *store.FlushResult) error {
	if res == nil || len(res.Tiles) == 0 {
		return nil
	}

	b := w.builder
	for _, t := range res.Tiles {
		b.Field(0).(*array.Int32Builder).Append(int32(seq))
		b.Field(1).(*array.Int32Builder).Append(int32(t.Key.Z))
		b.Field(2).(*array.Int32Builder).Append(int32(t.Key.X))
		b.Field(3).(*array.Int32Builder).Append(int32(t.Key.Y))
		b.Field(4).(*array.StringBuilder).Append(t.Path)
		b.Field(5).(*array.Int64Builder).Append(int64(t.Added))
		b.Field(6).(*array.Int64Builder).Append(int64(t.Total))
		b.Field(7).(*array.Int64Builder).Append(t.Bytes)
		b.Field(8).(*array.BooleanBuilder).Append(t.Created)
		b.Field(9).(*array.StringBuilder).Append(w.runID)
	}

	rec := b.NewRecord()
	defer rec.Release()
	if err := w.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write inventory rows: %w", err)
	}
	w.rows += int64(len(res.Tiles))
	return nil
}

// Rows returns the number of rows written so far
func (w *InventoryWriter) Rows() int64 {
	return w.rows
}

// Close writes the footer and closes the file
func (w *InventoryWriter) Close() error {
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to close inventory writer: %w", err)
	}
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
