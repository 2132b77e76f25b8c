package output

import (
	"fmt"
	"math"
)

// formatSRTTime converts seconds to SRT time format HH:MM:SS,mmm.
func formatSRTTime(seconds float64) string {
	return formatClockMillis(seconds, ',')
}

// formatVTTTime converts seconds to WebVTT time format HH:MM:SS.mmm.
func formatVTTTime(seconds float64) string {
	return formatClockMillis(seconds, '.')
}

func formatClockMillis(seconds float64, sep rune) string {
	totalMs := int64(math.Round(math.Abs(seconds) * 1000))
	hours := totalMs / 3600000
	minutes := (totalMs % 3600000) / 60000
	secs := (totalMs % 60000) / 1000
	millis := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, sep, millis)
}

// formatClockTime converts seconds to HH:MM:SS for the TXT header lines.
func formatClockTime(seconds float64) string {
	total := int64(math.Round(math.Abs(seconds)))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
