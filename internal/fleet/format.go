package fleet

import "fmt"

// FormatSize renders a byte count as "512 B", "1.5 KB" or "2.25 MB".
func FormatSize(n float64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", int64(n))
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", n/1024)
	default:
		return fmt.Sprintf("%.2f MB", n/(1024*1024))
	}
}

// FormatSpeed renders a transfer rate in bytes per second.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return FormatSize(bytesPerSecond) + "/s"
}
