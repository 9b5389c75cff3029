// Package format renders counters, durations and ratios for log lines and
// operational JSON. Hot-path helpers avoid fmt for single-digit values.
package format

import (
	"fmt"
	"time"
)

const (
	zeroPercent = "0%"
	zeroLatency = "0ms"
	neverProbed = "never"

	digits = "0123456789"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

func Bytes(bytes uint64) string {
	const step = 1024
	if bytes < step {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes)
	unit := 0
	for value >= step && unit < len(byteUnits)-1 {
		value /= step
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}

// Duration renders compact wall-clock durations: sub-second values keep the
// stdlib form, everything else collapses to 1h2m3s style.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	total := int(d.Seconds())
	hours, minutes, seconds := total/3600, (total/60)%60, total%60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// WorkersUp renders a healthy/total fraction for log lines.
func WorkersUp(healthy, total int) string {
	if healthy >= 0 && healthy < 10 && total >= 0 && total < 10 {
		return digits[healthy:healthy+1] + "/" + digits[total:total+1]
	}
	return fmt.Sprintf("%d/%d", healthy, total)
}

func Percentage(value float64) string {
	switch value {
	case 0:
		return zeroPercent
	case 100:
		return "100%"
	default:
		return fmt.Sprintf("%.1f%%", value)
	}
}

func Latency(ms int64) string {
	switch {
	case ms == 0:
		return zeroLatency
	case ms >= 1000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000.0)
	case ms > 0 && ms < 10:
		return digits[ms:ms+1] + "ms"
	default:
		return fmt.Sprintf("%dms", ms)
	}
}

func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return neverProbed
	}
	return TimeDuration(time.Since(t)) + " ago"
}

func TimeUntil(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Until(t)
	if d <= 0 {
		return "now"
	}
	return "in " + TimeDuration(d)
}

// TimeDuration rounds to the largest sensible unit for probe and breaker
// countdowns.
func TimeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		if s := int(d.Seconds()); s >= 0 && s < 10 {
			return digits[s:s+1] + "s"
		}
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 24*time.Hour:
		return fmt.Sprintf("%.0fh", d.Hours())
	default:
		return fmt.Sprintf("%.0fd", d.Hours()/24)
	}
}
