package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wegman-software/pointtiles-go/internal/bucket"
	"github.com/wegman-software/pointtiles-go/internal/config"
	"github.com/wegman-software/pointtiles-go/internal/filter"
	"github.com/wegman-software/pointtiles-go/internal/logger"
	"github.com/wegman-software/pointtiles-go/internal/metrics"
	"github.com/wegman-software/pointtiles-go/internal/point"
	"github.com/wegman-software/pointtiles-go/internal/store"
	"github.com/wegman-software/pointtiles-go/internal/tile"
)

// ErrAlreadyRun is returned when Run is called on a driver that has already run
var ErrAlreadyRun = errors.New("driver has already run")

// Reader yields input rows. Next returns io.EOF after the last row and an error
// wrapping point.ErrMalformedRow for rows that cannot be parsed.
type Reader interface {
	Next() (point.Row, error)
}

// Flusher merges a batch of buckets into persistent tiles
type Flusher interface {
	Flush(ctx context.Context, batch bucket.Batch) (*store.FlushResult, error)
}

// Hook inspects and possibly rewrites a record. It reports whether to keep it.
type Hook interface {
	Process(rec *point.Record) (bool, error)
}

// TileSink receives the keys of every tile written
type TileSink interface {
	Add(keys ...tile.Key)
}

// FlushSink receives every flush result, numbered from 1
type FlushSink interface {
	WriteFlush(seq int, res *store.FlushResult) error
}

// Driver streams rows into buckets and flushes them to tiles in batches
type Driver struct {
	cfg     *config.Config
	schema  point.Schema
	flusher Flusher
	buckets *bucket.Buckets

	filter    *filter.Filter
	hook      Hook
	tracker   TileSink
	inventory FlushSink

	runID     string
	inputSize int64
	state     atomic.Int32
	live      LiveStats
	stats     Stats
}

// NewDriver creates a driver that flushes through f
func NewDriver(cfg *config.Config, f Flusher) *Driver {
	d := &Driver{
		cfg:     cfg,
		schema:  cfg.Schema(),
		flusher: f,
		buckets: bucket.New(),
		runID:   uuid.NewString(),
	}
	if !cfg.Filter.IsZero() {
		d.filter = filter.New(cfg.Filter)
	}
	return d
}

// SetHook installs a record hook
func (d *Driver) SetHook(h Hook) { d.hook = h }

// SetTracker receives the key of every written tile
func (d *Driver) SetTracker(t TileSink) { d.tracker = t }

// SetInventory receives every flush result
func (d *Driver) SetInventory(s FlushSink) { d.inventory = s }

// SetInputSize sets the input size in bytes used for progress percentages
func (d *Driver) SetInputSize(n int64) { d.inputSize = n }

// RunID returns the run identifier
func (d *Driver) RunID() string { return d.runID }

// State returns the current lifecycle stage
func (d *Driver) State() State { return State(d.state.Load()) }

// Live returns the counters updated during the run
func (d *Driver) Live() *LiveStats { return &d.live }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

// Run streams every row from r. Stats are returned even when the run fails.
func (d *Driver) Run(ctx context.Context, r Reader) (*Stats, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateStreaming)) {
		return nil, ErrAlreadyRun
	}

	log := logger.Get().With(zap.String("run_id", d.runID))
	start := time.Now()
	d.live.StartTime = start
	d.stats.RunID = d.runID

	if d.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(d.cfg.MetricsInterval, d.cfg.OutputDir, log)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", d.cfg.MetricsInterval))
	}

	if d.cfg.ProgressInterval > 0 {
		progressCtx, cancelProgress := context.WithCancel(ctx)
		defer cancelProgress()
		go d.reportProgress(progressCtx, log, r)
	}

	log.Info("Tiling started",
		zap.Int("min_zoom", d.cfg.MinZoom),
		zap.Int("max_zoom", d.cfg.MaxZoom),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("workers", d.cfg.Workers))

	err := d.run(ctx, r, log)
	d.stats.Duration = time.Since(start)
	if err != nil {
		d.stats.Unflushed = int64(d.buckets.Records())
		d.setState(StateFailed)
		log.Error("Tiling failed",
			zap.String("state", d.State().String()),
			zap.Int64("tiled", d.stats.Tiled),
			zap.Int64("unflushed", d.stats.Unflushed),
			zap.Error(err))
		return &d.stats, err
	}
	d.setState(StateDone)

	log.Info("Tiling complete",
		zap.Int64("rows_seen", d.stats.RowsSeen),
		zap.Int64("skipped", d.stats.Skipped),
		zap.Int64("filtered", d.stats.Filtered),
		zap.Int64("tiled", d.stats.Tiled),
		zap.Int("flushes", d.stats.Flushes),
		zap.Int64("tiles_created", d.stats.TilesCreated),
		zap.Int64("tiles_updated", d.stats.TilesUpdated),
		zap.String("written", FormatBytes(d.stats.BytesWritten)),
		zap.Duration("duration", d.stats.Duration.Round(time.Millisecond)))
	return &d.stats, nil
}

func (d *Driver) run(ctx context.Context, r Reader, log *zap.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := r.Next()
		if err == io.EOF {
			break
		}
		d.stats.RowsSeen++
		d.live.RowsSeen.Add(1)
		if err != nil {
			if !errors.Is(err, point.ErrMalformedRow) {
				return fmt.Errorf("failed to read input: %w", err)
			}
			d.skip(err, log)
			continue
		}

		if err := d.accept(row, log); err != nil {
			return err
		}

		if d.buckets.Records() >= d.cfg.BatchSize {
			if err := d.flush(ctx, StateFlushing, log); err != nil {
				return err
			}
			d.setState(StateStreaming)
		}
	}

	return d.flush(ctx, StateFinalFlushing, log)
}

// accept validates one row and absorbs it into the buckets
func (d *Driver) accept(row point.Row, log *zap.Logger) error {
	rec, err := point.FromRow(row, d.schema)
	if err != nil {
		d.skip(err, log)
		return nil
	}

	if !d.filter.Match(row) {
		d.stats.Filtered++
		return nil
	}
	if d.hook != nil {
		keep, err := d.hook.Process(&rec)
		if err != nil {
			return fmt.Errorf("record hook failed at row %d: %w", d.stats.RowsSeen, err)
		}
		if !keep {
			d.stats.Filtered++
			return nil
		}
	}

	d.buckets.Absorb(rec, d.cfg.MinZoom, d.cfg.MaxZoom)
	return nil
}

func (d *Driver) skip(err error, log *zap.Logger) {
	d.stats.Skipped++
	d.live.Skipped.Add(1)
	switch point.SkipReason(err) {
	case "missing_coordinate":
		d.stats.MissingCoordinate++
	case "invalid_coordinate":
		d.stats.InvalidCoordinate++
	case "out_of_range":
		d.stats.OutOfRange++
	case "malformed_row":
		d.stats.Malformed++
	}
	log.Debug("Skipping row", zap.Int64("row", d.stats.RowsSeen), zap.Error(err))
}

// flush writes the current buckets. Buckets are cleared and their records
// counted as tiled only after success.
func (d *Driver) flush(ctx context.Context, stage State, log *zap.Logger) error {
	if d.buckets.Len() == 0 {
		return nil
	}
	d.setState(stage)

	flushStart := time.Now()
	records := d.buckets.Records()
	res, err := d.flusher.Flush(ctx, d.buckets.Batch())
	if err != nil {
		return fmt.Errorf("flush %d failed: %w", d.stats.Flushes+1, err)
	}
	d.buckets.Reset()

	d.stats.Flushes++
	d.stats.Tiled += int64(records)
	d.stats.TilesCreated += int64(res.Created)
	d.stats.TilesUpdated += int64(res.Updated)
	d.stats.FeaturesWritten += res.Added
	d.stats.BytesWritten += res.Bytes
	d.live.Flushes.Add(1)
	d.live.Tiled.Add(int64(records))
	d.live.Features.Add(res.Added)

	if d.tracker != nil {
		keys := make([]tile.Key, len(res.Tiles))
		for i, t := range res.Tiles {
			keys[i] = t.Key
		}
		d.tracker.Add(keys...)
	}
	if d.inventory != nil {
		if err := d.inventory.WriteFlush(d.stats.Flushes, res); err != nil {
			return err
		}
	}

	log.Debug("Flushed batch",
		zap.Int("flush", d.stats.Flushes),
		zap.String("stage", stage.String()),
		zap.Int("records", records),
		zap.Int("tiles", len(res.Tiles)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int64("features", res.Added),
		zap.Duration("took", time.Since(flushStart).Round(time.Millisecond)))
	return nil
}

// reportProgress periodically logs live counters
func (d *Driver) reportProgress(ctx context.Context, log *zap.Logger, r Reader) {
	ticker := time.NewTicker(d.cfg.ProgressInterval)
	defer ticker.Stop()

	counter, _ := r.(interface{ BytesRead() int64 })
	tracker := NewProgressTracker(d.inputSize, "rows")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var read int64
			if counter != nil {
				read = counter.BytesRead()
				d.live.BytesRead.Store(read)
			}
			p := tracker.Calculate(d.live.RowsSeen.Load(), read)

			fields := []zap.Field{
				zap.Int64("rows", p.Current),
				zap.Int64("tiled", d.live.Tiled.Load()),
				zap.Int64("skipped", d.live.Skipped.Load()),
				zap.Int64("flushes", d.live.Flushes.Load()),
				zap.String("rate", FormatThroughput(p.Throughput)),
				zap.Duration("elapsed", p.Elapsed),
			}
			if p.Total > 0 {
				fields = append(fields,
					zap.String("read", FormatBytes(read)+" / "+FormatBytes(p.Total)),
					zap.String("pct", fmt.Sprintf("%.1f%%", p.Percentage)),
					zap.String("eta", FormatETA(p.ETA)))
			}
			log.Info("Tiling progress", fields...)
		}
	}
}
