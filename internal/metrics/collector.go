package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample of process and host metrics
type Snapshot struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, per core, can exceed 100%
	ProcessRSSBytes   uint64
	MemoryPercent     float64
	DiskWriteMBps     float64 // All block devices
	OutputFreeBytes   uint64  // Free space on the filesystem holding the output directory
	OutputUsedPercent float64
	Timestamp         time.Time
}

// Collector periodically samples metrics and logs them
type Collector struct {
	interval  time.Duration
	outputDir string
	logger    *zap.Logger
	proc      *process.Process

	lastWritten uint64
	lastDisk    time.Time

	mu   sync.RWMutex
	last *Snapshot
}

// NewCollector creates a collector. outputDir is the tile pyramid root whose
// filesystem is watched for free space.
func NewCollector(interval time.Duration, outputDir string, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval:  interval,
		outputDir: outputDir,
		logger:    logger,
		proc:      proc,
	}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent snapshot, or nil before the first sample
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	s := &Snapshot{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if c.outputDir != "" {
		if u, err := disk.Usage(c.outputDir); err == nil {
			s.OutputFreeBytes = u.Free
			s.OutputUsedPercent = u.UsedPercent
		}
	}
	s.DiskWriteMBps = c.diskWriteRate(s.Timestamp)

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", round1(s.CPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcessCPUPercent)),
		zap.String("rss", formatGB(s.ProcessRSSBytes)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("disk_w", fmt.Sprintf("%.1f MB/s", s.DiskWriteMBps)),
		zap.String("out_free", formatGB(s.OutputFreeBytes)),
		zap.Float64("out_used_pct", round1(s.OutputUsedPercent)),
	)
}

// diskWriteRate returns MB/s written since the previous sample. The first call
// only records a baseline.
func (c *Collector) diskWriteRate(now time.Time) float64 {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0
	}

	var written uint64
	for _, counter := range counters {
		written += counter.WriteBytes
	}

	prev, prevTime := c.lastWritten, c.lastDisk
	c.lastWritten, c.lastDisk = written, now

	if prevTime.IsZero() || written < prev {
		return 0
	}
	elapsed := now.Sub(prevTime).Seconds()
	if elapsed < 0.1 {
		return 0
	}
	return float64(written-prev) / elapsed / (1024 * 1024)
}

func formatGB(b uint64) string {
	return fmt.Sprintf("%.1f GB", float64(b)/(1024*1024*1024))
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
