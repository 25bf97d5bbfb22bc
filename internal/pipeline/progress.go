package pipeline

import (
	"fmt"
	"time"
)

// ProgressTracker turns raw counters into rates and an input-based ETA
type ProgressTracker struct {
	totalBytes int64
	startTime  time.Time
	unit       string
}

// NewProgressTracker creates a tracker for an input of totalBytes (0 if unknown)
func NewProgressTracker(totalBytes int64, unit string) *ProgressTracker {
	return &ProgressTracker{
		totalBytes: totalBytes,
		startTime:  time.Now(),
		unit:       unit,
	}
}

// Progress is one progress sample
type Progress struct {
	Current    int64
	Total      int64 // Input size in bytes
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // Current per second
	Unit       string
}

// Calculate returns a sample for count items after bytesRead bytes of input
func (p *ProgressTracker) Calculate(count, bytesRead int64) Progress {
	return p.calculateAt(time.Since(p.startTime), count, bytesRead)
}

func (p *ProgressTracker) calculateAt(elapsed time.Duration, count, bytesRead int64) Progress {
	out := Progress{
		Current: count,
		Total:   p.totalBytes,
		Elapsed: elapsed.Round(time.Second),
		Unit:    p.unit,
	}

	secs := elapsed.Seconds()
	if secs > 0 {
		out.Throughput = float64(count) / secs
	}

	if p.totalBytes > 0 && bytesRead > 0 {
		out.Percentage = float64(bytesRead) / float64(p.totalBytes) * 100
		if out.Percentage > 100 {
			out.Percentage = 100
		}
		if out.Percentage < 100 && secs > 0 {
			perSec := float64(bytesRead) / secs
			out.ETA = (time.Duration(float64(p.totalBytes-bytesRead)/perSec) * time.Second).Round(time.Second)
		}
	}
	return out
}

// FormatETA formats a remaining duration for log output
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats a per-second rate with K/M suffixes
func FormatThroughput(perSec float64) string {
	switch {
	case perSec >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", perSec/1_000_000)
	case perSec >= 1_000:
		return fmt.Sprintf("%.1fK/s", perSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

// FormatBytes formats a byte count with binary units
func FormatBytes(n int64) string {
	const (
		KB = 1 << 10
		MB = 1 << 20
		GB = 1 << 30
	)

	switch {
	case n >= GB:
		return fmt.Sprintf("%.1f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1f KB", float64(n)/KB)
	}
	return fmt.Sprintf("%d B", n)
}
