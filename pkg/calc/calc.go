// Package calc computes progress figures and their human readable labels.
package calc

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

const bytesInMB = 1024 * 1024

// Progress returns the floored percentage of downloaded over total.
// The second result is false when total is unknown.
func Progress(downloaded, total int64) (int, bool) {
	if total <= 0 {
		return 0, false
	}

	return int(math.Floor(float64(downloaded) / float64(total) * 100)), true
}

// Rate returns bytes per second for a chunk received over elapsed.
func Rate(chunk int64, elapsed time.Duration) float64 {
	if chunk <= 0 || elapsed <= 0 {
		return 0
	}

	return float64(chunk) / elapsed.Seconds()
}

// ETA estimates the time left to receive remaining bytes at rate bytes per second.
func ETA(remaining int64, rate float64) time.Duration {
	if remaining <= 0 || rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 0
	}

	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// RateLabel formats a transfer rate, e.g. "1.2 MB/s".
func RateLabel(rate float64) string {
	if rate <= 0 {
		return ""
	}

	return humanize.Bytes(uint64(rate)) + "/s"
}

// ETALabel formats a remaining time as minutes and seconds, e.g. "3m 7s".
func ETALabel(d time.Duration) string {
	if d <= 0 {
		return ""
	}

	d = d.Round(time.Second)
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)

	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// SizeLabel formats a final artifact size, e.g. "12 MB".
func SizeLabel(size int64) string {
	if size < 0 {
		size = 0
	}

	return humanize.Bytes(uint64(size))
}

// ApproxSizeLabel formats an advertised format size as "~N MB", or "Unknown".
func ApproxSizeLabel(size int64) string {
	if size <= 0 {
		return "Unknown"
	}

	return fmt.Sprintf("~%d MB", int64(math.Round(float64(size)/bytesInMB)))
}

// DurationLabel formats d as HH:MM:SS.
func DurationLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	total := int64(d / time.Second)

	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
