package format

import (
	"fmt"
	"time"
)

// Timestamp formats a duration as HH:MM:SS, always with hours.
// Negative durations format as 00:00:00.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Duration formats a duration as HH:MM:SS or MM:SS.
func Duration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Seconds formats an elapsed time with one decimal, e.g. "12.3s".
func Seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
