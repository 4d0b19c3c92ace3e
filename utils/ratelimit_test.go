package utils

import (
	"context"
	"testing"
	"time"
)

func TestBandwidthLimiter_Unlimited(t *testing.T) {
	limiter := NewBandwidthLimiter(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background(), 1<<20); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unlimited limiter should not block, took %v", elapsed)
	}
}

func TestBandwidthLimiter_Throttles(t *testing.T) {
	// burst equals one second of traffic; draining it makes the next 32KiB wait ~0.5s
	limiter := NewBandwidthLimiter(64 * 1024)
	ctx := context.Background()

	if err := limiter.Wait(ctx, 64*1024); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := limiter.Wait(ctx, 32*1024); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("second wait was too fast: %v", elapsed)
	}
}

func TestBandwidthLimiter_LargerThanBurst(t *testing.T) {
	limiter := NewBandwidthLimiter(1024 * 1024)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := limiter.Wait(ctx, 3*1024*1024/2); err != nil {
		t.Fatalf("requests above the burst should be split, got %v", err)
	}
}

func TestBandwidthLimiter_ContextCancellation(t *testing.T) {
	limiter := NewBandwidthLimiter(32 * 1024)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx, 32*1024); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := limiter.Wait(ctx, 32*1024); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestBandwidthLimiter_SetRate(t *testing.T) {
	limiter := NewBandwidthLimiter(32 * 1024)
	limiter.SetRate(0)

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := limiter.Wait(context.Background(), 64*1024); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("SetRate(0) should disable limiting, took %v", elapsed)
	}
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
		hasError bool
	}{
		{"Empty string", "", 0, false},
		{"Pure number", "1000", 1000, false},
		{"Bytes", "500B", 500, false},
		{"Kilobytes", "5K", 5 * 1024, false},
		{"Kilobytes with B", "5KB", 5 * 1024, false},
		{"Megabytes", "10M", 10 * 1024 * 1024, false},
		{"Megabytes per second", "10MB/s", 10 * 1024 * 1024, false},
		{"Gigabytes", "2G", 2 * 1024 * 1024 * 1024, false},
		{"Decimal megabytes", "1.5M", int64(1.5 * 1024 * 1024), false},
		{"With whitespace", "  5M  ", 5 * 1024 * 1024, false},
		{"Invalid suffix", "5X", 0, true},
		{"Invalid number", "abcM", 0, true},
		{"Negative number", "-5M", 0, true},
		{"Too short", "M", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseRateLimit(tt.input)

			if tt.hasError {
				if err == nil {
					t.Errorf("Expected error for input %q, but got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error for input %q: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("For input %q, expected %d, got %d", tt.input, tt.expected, result)
			}
		})
	}
}
