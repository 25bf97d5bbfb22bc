package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/spf13/cobra"
	"github.com/wegman-software/pointtiles-go/internal/config"
	"github.com/wegman-software/pointtiles-go/internal/expire"
	"github.com/wegman-software/pointtiles-go/internal/filter"
	"github.com/wegman-software/pointtiles-go/internal/hook"
	"github.com/wegman-software/pointtiles-go/internal/journal"
	"github.com/wegman-software/pointtiles-go/internal/logger"
	"github.com/wegman-software/pointtiles-go/internal/parquet"
	"github.com/wegman-software/pointtiles-go/internal/pipeline"
	"github.com/wegman-software/pointtiles-go/internal/source"
	"github.com/wegman-software/pointtiles-go/internal/store"
)

var (
	keepCols   string
	filterFile string
)

var buildCmd = &cobra.Command{
	Use:   "build <input.csv>",
	Short: "Tile a CSV of point records into the pyramid",
	Long: `Stream a CSV file with a header row, validate coordinates, and append every
record to its tile at each zoom from --min-zoom to --max-zoom.

Records are buffered and flushed every --batch accepted records. Rows with
missing, non-numeric or out-of-range coordinates are skipped and counted.
A corrupt existing tile aborts the run.`,
	Args: cobra.ExactArgs(1),
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	f := buildCmd.Flags()
	f.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Root directory of the tile pyramid")
	f.StringVar(&cfg.Ext, "ext", cfg.Ext, "Tile file extension")
	f.IntVar(&cfg.CompressionLevel, "compression-level", cfg.CompressionLevel, "gzip level 1-9, -1 for the default")
	f.IntVar(&cfg.MinZoom, "min-zoom", cfg.MinZoom, "Lowest zoom level to write")
	f.IntVar(&cfg.MaxZoom, "max-zoom", cfg.MaxZoom, "Highest zoom level to write")
	f.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Accepted records buffered per flush")
	f.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Tiles merged in parallel during a flush")
	f.StringVar(&cfg.LatField, "lat-col", cfg.LatField, "Latitude column")
	f.StringVar(&cfg.LonField, "lon-col", cfg.LonField, "Longitude column")
	f.StringVar(&keepCols, "keep-cols", "", "Comma separated property columns (default: observation fields)")
	f.StringVar(&filterFile, "filter", "", "YAML file with include/exclude/require_any property rules")
	f.StringVar(&cfg.HookFile, "hook", "", "Lua script defining process_record(record)")
	f.StringVarP(&cfg.ExpireOutput, "expire-output", "e", "", "Write touched tiles (z/x/y per line) to this file")
	f.BoolVar(&cfg.ExpireAppend, "expire-append", false, "Append to the expire output instead of replacing it")
	f.StringVar(&cfg.InventoryOutput, "inventory", "", "Write a Parquet inventory of tile writes to this file")
	f.StringVar(&cfg.StateFile, "state-file", "", "Record each successful run here and warn when an input is tiled twice")
	f.BoolVar(&cfg.Progress, "progress", false, "Show a progress bar on stderr")
	f.DurationVar(&cfg.ProgressInterval, "progress-interval", cfg.ProgressInterval, "Interval for progress log lines, 0 disables")
}

func runBuild(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if configFile != "" {
		profile, err := config.LoadFile(configFile)
		if err != nil {
			exitWithError("invalid config file", err)
		}
		cfg.Apply(profile, cmd.Flags().Changed)
	}
	if cmd.Flags().Changed("keep-cols") {
		cfg.KeepFields = config.ParseFields(keepCols)
	}
	if filterFile != "" {
		rules, err := filter.LoadConfig(filterFile)
		if err != nil {
			exitWithError("invalid filter file", err)
		}
		cfg.Filter = *rules
	}

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	totalStart := time.Now()

	tiles, err := store.New(store.Options{
		Root:             cfg.OutputDir,
		Ext:              cfg.Ext,
		Workers:          cfg.Workers,
		CompressionLevel: cfg.CompressionLevel,
	})
	if err != nil {
		exitWithError("failed to open tile store", err)
	}

	info, err := os.Stat(cfg.InputFile)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	size := info.Size()

	var prev *journal.State
	if cfg.StateFile != "" {
		prev, err = journal.Load(cfg.StateFile)
		if err != nil {
			log.Warn("Ignoring unreadable pyramid state", zap.String("state_file", cfg.StateFile), zap.Error(err))
			prev = nil
		}
		if prev.SameInput(cfg.InputFile, size) {
			log.Warn("Input was already tiled into this pyramid, its features will be appended again",
				zap.String("previous_run", prev.RunID),
				zap.Time("at", prev.Timestamp))
		}
	}

	var wrap func(io.Reader) io.Reader
	var bar *pb.ProgressBar
	if cfg.Progress {
		bar = pb.New64(size).SetUnits(pb.U_BYTES)
		bar.Output = os.Stderr
		bar.ShowSpeed = true
		bar.SetRefreshRate(time.Second)
		bar.Start()
		wrap = func(r io.Reader) io.Reader { return bar.NewProxyReader(r) }
	}

	reader, err := source.OpenCSV(cfg.InputFile, wrap)
	if err != nil {
		exitWithError("failed to read input", err)
	}
	defer reader.Close()
	if missing := reader.Missing(cfg.LatField, cfg.LonField); len(missing) > 0 {
		log.Warn("Coordinate columns missing from header, every row will be skipped",
			zap.Strings("columns", missing))
	}
	if missing := reader.Missing(cfg.KeepFields...); len(missing) > 0 {
		log.Warn("Property columns missing from header, values will be empty",
			zap.Strings("columns", missing))
	}

	driver := pipeline.NewDriver(cfg, tiles)
	driver.SetInputSize(size)

	logFields := []zap.Field{
		zap.String("run_id", driver.RunID()),
		zap.String("input", cfg.InputFile),
		zap.String("output", cfg.OutputDir),
		zap.Strings("keep", cfg.KeepFields),
	}

	if cfg.HookFile != "" {
		rt := hook.NewRuntime()
		defer rt.Close()
		if err := rt.LoadFile(cfg.HookFile); err != nil {
			exitWithError("failed to load hook", err)
		}
		if rt.HasProcess() {
			driver.SetHook(rt)
		} else {
			log.Warn("Hook script defines no process_record function", zap.String("hook", cfg.HookFile))
		}
		logFields = append(logFields, zap.String("hook", cfg.HookFile))
	}
	if !cfg.Filter.IsZero() {
		logFields = append(logFields, zap.Bool("filter", true))
	}

	var tracker *expire.Tracker
	if cfg.ExpireOutput != "" {
		tracker = expire.NewTracker()
		driver.SetTracker(tracker)
		logFields = append(logFields,
			zap.String("expire_output", cfg.ExpireOutput),
			zap.Bool("expire_append", cfg.ExpireAppend))
	}

	var inventory *parquet.InventoryWriter
	if cfg.InventoryOutput != "" {
		inventory, err = parquet.NewInventoryWriter(cfg.InventoryOutput, driver.RunID())
		if err != nil {
			exitWithError("failed to create inventory", err)
		}
		driver.SetInventory(inventory)
		logFields = append(logFields, zap.String("inventory", cfg.InventoryOutput))
	}

	log.Info("Starting pointtiles build", logFields...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, runErr := driver.Run(ctx, reader)

	if bar != nil {
		bar.Finish()
	}
	// Side outputs cover every tile written, including those of a failed run.
	if inventory != nil {
		if err := inventory.Close(); err != nil {
			log.Error("Failed to close inventory", zap.Error(err))
		}
	}
	if tracker != nil {
		save := tracker.WriteToFile
		if cfg.ExpireAppend {
			save = tracker.AppendToFile
		}
		if err := save(cfg.ExpireOutput); err != nil {
			log.Error("Failed to write expire tiles", zap.Error(err))
		}
	}

	if runErr != nil {
		if stats != nil {
			log.Info("Partial run",
				zap.Int64("rows_seen", stats.RowsSeen),
				zap.Int64("tiled", stats.Tiled),
				zap.Int64("unflushed", stats.Unflushed),
				zap.Int("flushes", stats.Flushes))
		}
		exitWithError("build failed", runErr)
	}

	if cfg.StateFile != "" {
		if _, err := journal.Record(cfg.StateFile, prev, driver.RunID(), cfg.InputFile, size, stats.Tiled); err != nil {
			log.Warn("Failed to record pyramid state", zap.Error(err))
		}
	}

	totalElapsed := time.Since(totalStart)
	log.Info("Build complete",
		zap.Duration("total_time", totalElapsed.Round(time.Millisecond)),
		zap.Int64("rows_seen", stats.RowsSeen),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("filtered", stats.Filtered),
		zap.Int64("tiled", stats.Tiled),
		zap.Int64("features_written", stats.FeaturesWritten),
		zap.String("throughput", fmt.Sprintf("%.1f MB/s", float64(reader.BytesRead())/(1024*1024)/totalElapsed.Seconds())),
	)
}
