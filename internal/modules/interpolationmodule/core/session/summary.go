package session

import (
	"fmt"
	"time"
)

// FormatElapsed renders d for humans, e.g. "850ms", "12.4s", "3m 07s",
// "1h 02m 09s".
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		d = d.Round(time.Second)
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

// Summary returns the completion line of a successful run.
func Summary(engineName string, elapsed time.Duration, encoderPending bool) string {
	line := fmt.Sprintf("Done running %s - Interpolation took %s", engineName, FormatElapsed(elapsed))
	if encoderPending {
		line += " - Waiting for encoding to finish..."
	}
	return line
}
