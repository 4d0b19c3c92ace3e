package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"onedl/internal"
)

const minBurst = 32 * 1024

// BandwidthLimiter caps download throughput shared by every active transfer
type BandwidthLimiter struct {
	limiter atomic.Pointer[rate.Limiter] // nil means unlimited
}

// NewBandwidthLimiter creates a limiter; bytesPerSecond <= 0 means unlimited
func NewBandwidthLimiter(bytesPerSecond int64) internal.RateLimiter {
	b := &BandwidthLimiter{}
	b.SetRate(bytesPerSecond)
	return b
}

// Wait blocks until n bytes may be consumed. Reads larger than the burst are
// split since WaitN rejects them.
func (b *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	l := b.limiter.Load()
	if l == nil {
		return ctx.Err()
	}
	for n > 0 {
		chunk := min(n, l.Burst())
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetRate swaps the limit; transfers in flight pick it up on their next read
func (b *BandwidthLimiter) SetRate(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		b.limiter.Store(nil)
		return
	}
	b.limiter.Store(rate.NewLimiter(rate.Limit(bytesPerSecond), max(int(bytesPerSecond), minBurst)))
}

// ParseRateLimit parses human-readable rate limit strings (e.g., "5M", "1G")
func ParseRateLimit(rateStr string) (int64, error) {
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	// Handle pure numbers (bytes per second)
	if val, err := strconv.ParseInt(rateStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("rate cannot be negative: %d", val)
		}
		return val, nil
	}

	upper := strings.ToUpper(rateStr)
	upper = strings.TrimSuffix(upper, "/S")
	numStr := strings.TrimRight(upper, "KMGTB")
	suffix := upper[len(numStr):]
	if numStr == "" {
		return 0, fmt.Errorf("invalid rate format: %s", rateStr)
	}

	baseValue, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if baseValue < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %f", baseValue)
	}

	var multiplier int64
	switch suffix {
	case "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	case "T", "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %s (supported: B, K/KB, M/MB, G/GB, T/TB)", suffix)
	}

	result := int64(baseValue * float64(multiplier))
	if result < 0 {
		return 0, fmt.Errorf("rate value overflow")
	}

	return result, nil
}
