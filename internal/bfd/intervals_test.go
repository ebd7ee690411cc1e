package bfd_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

func TestNegotiatedTxInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		desired     time.Duration
		remoteMinRx time.Duration
		want        time.Duration
	}{
		{"peer slower", 100 * time.Millisecond, 150 * time.Millisecond, 150 * time.Millisecond},
		{"local slower", 300 * time.Millisecond, 50 * time.Millisecond, 300 * time.Millisecond},
		{"equal", 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond},
		{"peer not yet known", 100 * time.Millisecond, 0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := bfd.NegotiatedTxInterval(tt.desired, tt.remoteMinRx); got != tt.want {
				t.Errorf("NegotiatedTxInterval(%v, %v) = %v, want %v",
					tt.desired, tt.remoteMinRx, got, tt.want)
			}
		})
	}
}

func TestDetectionTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mult           uint8
		requiredMinRx  time.Duration
		remoteDesiredT time.Duration
		want           time.Duration
	}{
		{"symmetric 3x100ms", 3, 100 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond},
		{"peer sends slower", 3, 100 * time.Millisecond, 250 * time.Millisecond, 750 * time.Millisecond},
		{"local receives slower", 5, 1 * time.Second, 10 * time.Millisecond, 5 * time.Second},
		{"mult 1", 1, 50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond},
		{"mult 255", 255, 10 * time.Millisecond, 0, 2550 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bfd.DetectionTime(tt.mult, tt.requiredMinRx, tt.remoteDesiredT)
			if got != tt.want {
				t.Errorf("DetectionTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyJitterBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		mult     uint8
		lowPct   int64
	}{
		{"mult 3 at 100ms", 100 * time.Millisecond, 3, 75},
		{"mult 3 at 1s", time.Second, 3, 75},
		{"mult 255 at 3.3ms", 3300 * time.Microsecond, 255, 75},
		{"mult 1 at 100ms", 100 * time.Millisecond, 1, 90},
		{"mult 1 at 10ms", 10 * time.Millisecond, 1, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			low := time.Duration(int64(tt.interval) * tt.lowPct / 100)
			for range 10000 {
				got := bfd.ApplyJitter(tt.interval, tt.mult)
				if got < low || got >= tt.interval {
					t.Fatalf("ApplyJitter(%v, %d) = %v, want in [%v, %v)",
						tt.interval, tt.mult, got, low, tt.interval)
				}
			}
		})
	}
}

func TestApplyJitterTinyInterval(t *testing.T) {
	t.Parallel()

	if got := bfd.ApplyJitter(3, 3); got != 3 {
		t.Errorf("ApplyJitter(3ns) = %v, want unchanged", got)
	}
	if got := bfd.ApplyJitter(0, 3); got != 0 {
		t.Errorf("ApplyJitter(0) = %v, want 0", got)
	}
}

func TestIsCommonInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    time.Duration
		want bool
	}{
		{"3.3ms", 3300 * time.Microsecond, true},
		{"10ms", 10 * time.Millisecond, true},
		{"50ms", 50 * time.Millisecond, true},
		{"100ms", 100 * time.Millisecond, true},
		{"1s", time.Second, true},
		{"0", 0, false},
		{"15ms", 15 * time.Millisecond, false},
		{"300ms", 300 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := bfd.IsCommonInterval(tt.d); got != tt.want {
				t.Errorf("IsCommonInterval(%v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

func TestAlignToCommonInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    time.Duration
		want time.Duration
	}{
		{"exact 100ms", 100 * time.Millisecond, 100 * time.Millisecond},
		{"1ms -> 3.3ms", time.Millisecond, 3300 * time.Microsecond},
		{"15ms -> 20ms", 15 * time.Millisecond, 20 * time.Millisecond},
		{"150ms -> 1s", 150 * time.Millisecond, time.Second},
		{"2s unchanged", 2 * time.Second, 2 * time.Second},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := bfd.AlignToCommonInterval(tt.d); got != tt.want {
				t.Errorf("AlignToCommonInterval(%v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}
