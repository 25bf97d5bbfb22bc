package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/pointtiles-go/internal/journal"
	"github.com/wegman-software/pointtiles-go/internal/logger"
	"github.com/wegman-software/pointtiles-go/internal/pipeline"
	"github.com/wegman-software/pointtiles-go/internal/store"
)

var (
	statExt   string
	statState string
)

var statCmd = &cobra.Command{
	Use:   "stat <tiles-dir>",
	Short: "Report tiles and features per zoom of an existing pyramid",
	Long: `Walk a tile pyramid, decode every tile and report tile and feature counts
per zoom level. Corrupt tiles are listed and make the command exit non-zero.`,
	Args: cobra.ExactArgs(1),
	Run:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)

	statCmd.Flags().StringVar(&statExt, "ext", cfg.Ext, "Tile file extension")
	statCmd.Flags().StringVar(&statState, "state-file", "", "State file written by build --state-file")
}

func runStat(cmd *cobra.Command, args []string) {
	root := args[0]
	log := logger.Get()

	sum, err := store.Survey(root, statExt)
	if err != nil {
		exitWithError("failed to read pyramid", err)
	}

	if statState != "" {
		logLastRun(log, statState)
	}

	var features, bytes int64
	for _, z := range sum.Zooms {
		log.Info(fmt.Sprintf("Zoom %d", z.Zoom),
			zap.Int("tiles", z.Tiles),
			zap.Int64("features", z.Features),
			zap.String("size", pipeline.FormatBytes(z.Bytes)))
		features += z.Features
		bytes += z.Bytes
	}
	for _, te := range sum.Corrupt {
		log.Warn("Corrupt tile", zap.String("tile", te.Key.String()), zap.String("path", te.Path), zap.Error(te.Err))
	}

	log.Info("Pyramid summary",
		zap.String("root", root),
		zap.Int("zooms", len(sum.Zooms)),
		zap.Int("tiles", sum.Tiles()),
		zap.Int64("features", features),
		zap.String("size", pipeline.FormatBytes(bytes)),
		zap.Int("corrupt", len(sum.Corrupt)),
		zap.Int("ignored", sum.Ignored))

	if len(sum.Corrupt) > 0 {
		exitWithError("pyramid has corrupt tiles", fmt.Errorf("%d corrupt tiles", len(sum.Corrupt)))
	}
}

func logLastRun(log *zap.Logger, path string) {
	state, err := journal.Load(path)
	if err != nil {
		log.Warn("Unreadable pyramid state", zap.String("state_file", path), zap.Error(err))
		return
	}
	if state.Runs == 0 {
		log.Info("No runs recorded", zap.String("state_file", path))
		return
	}
	log.Info("Last run",
		zap.Int64("runs", state.Runs),
		zap.String("run_id", state.RunID),
		zap.String("input", state.Input),
		zap.Int64("tiled", state.Tiled),
		zap.Time("at", state.Timestamp))
}
