package pipeline

import (
	"testing"
	"time"
)

func TestCalculate(t *testing.T) {
	p := NewProgressTracker(1000, "rows")

	got := p.calculateAt(10*time.Second, 500, 250)
	if got.Percentage != 25 {
		t.Errorf("Percentage = %v, want 25", got.Percentage)
	}
	if got.Throughput != 50 {
		t.Errorf("Throughput = %v, want 50", got.Throughput)
	}
	if got.ETA != 30*time.Second {
		t.Errorf("ETA = %v, want 30s", got.ETA)
	}

	done := p.calculateAt(40*time.Second, 2000, 1000)
	if done.Percentage != 100 || done.ETA != 0 {
		t.Errorf("finished input: pct=%v eta=%v", done.Percentage, done.ETA)
	}
}

func TestCalculateUnknownSize(t *testing.T) {
	p := NewProgressTracker(0, "rows")
	got := p.calculateAt(2*time.Second, 100, 4096)
	if got.Percentage != 0 || got.ETA != 0 {
		t.Errorf("unknown size should not report pct/eta: %+v", got)
	}
	if got.Throughput != 50 {
		t.Errorf("Throughput = %v, want 50", got.Throughput)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "calculating..."},
		{45 * time.Second, "45s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.d); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatThroughput(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{12, "12/s"},
		{1500, "1.5K/s"},
		{2_500_000, "2.5M/s"},
	}
	for _, tt := range tests {
		if got := FormatThroughput(tt.rate); got != tt.want {
			t.Errorf("FormatThroughput(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
