package fleet

import (
	"testing"
	"time"
)

// manualClock only moves when advanced.
type manualClock struct {
	t time.Time
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name        string
		done, total int64
		want        int
	}{
		{"zero total", 10, 0, 0},
		{"negative total", 10, -1, 0},
		{"nothing yet", 0, 1000, 0},
		{"floor", 999, 1000, 99},
		{"half", 500, 1000, 50},
		{"complete", 1000, 1000, 100},
		{"overshoot clamps", 1500, 1000, 100},
		{"negative clamps", -5, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentOf(tt.done, tt.total); got != tt.want {
				t.Errorf("percentOf(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
			}
		})
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clk.Now)

	id := tr.StartTransfer("AA:BB", 4096)
	if id == "" {
		t.Fatal("StartTransfer() returned empty id")
	}

	got, ok := tr.Get("AA:BB")
	if !ok {
		t.Fatal("Get() after start not found")
	}
	if got.Percent != 0 || got.SpeedLabel != "0 B/s" {
		t.Errorf("initial transfer = %+v, want 0%% at 0 B/s", got)
	}

	clk.advance(time.Second)
	if !tr.ReportProgress("AA:BB", 2048) {
		t.Fatal("ReportProgress() = false, want true")
	}
	got, _ = tr.Get("AA:BB")
	if got.Percent != 50 {
		t.Errorf("Percent = %d, want 50", got.Percent)
	}
	if got.SpeedLabel != "2.0 KB/s" {
		t.Errorf("SpeedLabel = %q, want 2.0 KB/s", got.SpeedLabel)
	}

	if !tr.EndTransfer("AA:BB") {
		t.Error("EndTransfer() = false, want true")
	}
	if tr.EndTransfer("AA:BB") {
		t.Error("second EndTransfer() = true, want false")
	}
	if _, ok := tr.Get("AA:BB"); ok {
		t.Error("Get() after end still found")
	}
}

func TestTracker_UnknownKeyIsNoop(t *testing.T) {
	tr := NewTracker(nil)

	if tr.ReportProgress("AA:BB", 10) {
		t.Error("ReportProgress() on unknown key = true, want false")
	}
	if tr.EndTransfer("AA:BB") {
		t.Error("EndTransfer() on unknown key = true, want false")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTracker_ProgressMonotonic(t *testing.T) {
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clk.Now)
	tr.StartTransfer("AA:BB", 1_000_003)

	last := -1
	for b := int64(0); b <= 1_100_000; b += 37_771 {
		clk.advance(250 * time.Millisecond)
		tr.ReportProgress("AA:BB", b)
		got, _ := tr.Get("AA:BB")
		if got.Percent < last {
			t.Fatalf("Percent went from %d to %d at %d bytes", last, got.Percent, b)
		}
		if got.Percent < 0 || got.Percent > 100 {
			t.Fatalf("Percent = %d out of range", got.Percent)
		}
		last = got.Percent
	}
	if last != 100 {
		t.Errorf("final Percent = %d, want 100", last)
	}
}

func TestTracker_SpeedSmoothing(t *testing.T) {
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clk.Now)
	tr.StartTransfer("AA:BB", 1<<20)

	clk.advance(time.Second)
	tr.ReportProgress("AA:BB", 1000)
	clk.advance(time.Second)
	tr.ReportProgress("AA:BB", 4000)

	got, _ := tr.Get("AA:BB")
	// 0.5*3000 + 0.5*1000
	if got.BytesPerSecond != 2000 {
		t.Errorf("BytesPerSecond = %v, want 2000", got.BytesPerSecond)
	}

	// No elapsed time keeps the previous rate.
	tr.ReportProgress("AA:BB", 9000)
	got, _ = tr.Get("AA:BB")
	if got.BytesPerSecond != 2000 {
		t.Errorf("BytesPerSecond with dt=0 = %v, want 2000", got.BytesPerSecond)
	}
	if got.BytesDownloaded != 9000 {
		t.Errorf("BytesDownloaded = %d, want 9000", got.BytesDownloaded)
	}
}

func TestTracker_EndTransferAttempt(t *testing.T) {
	tr := NewTracker(nil)
	first := tr.StartTransfer("AA:BB", 100)
	second := tr.StartTransfer("AA:BB", 100)

	if first == second {
		t.Fatal("StartTransfer() reused an id")
	}
	if tr.EndTransferAttempt("AA:BB", first) {
		t.Error("stale attempt ended the newer transfer")
	}
	if !tr.EndTransferAttempt("AA:BB", second) {
		t.Error("EndTransferAttempt() for current attempt = false")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    float64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.00 MB"},
		{2.25 * 1024 * 1024, "2.25 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.n); got != tt.want {
				t.Errorf("FormatSize(%v) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}
