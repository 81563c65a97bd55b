// Package timefmt renders accumulated study time for display.
package timefmt

import "fmt"

// Studied formats a leaderboard entry, e.g. "2 hr 15 min". Seconds below a
// full minute are dropped.
func Studied(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d hr", hours)
	case minutes > 0:
		return fmt.Sprintf("%d min", minutes)
	default:
		return "Just started"
	}
}

// Summary formats a user's own total, e.g. "Studied: 1 hour 5 minutes".
func Summary(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("Studied: %s %s", plural(hours, "hour"), plural(minutes, "minute"))
	case hours > 0:
		return "Studied: " + plural(hours, "hour")
	case minutes > 0:
		return "Studied: " + plural(minutes, "minute")
	default:
		return "No sessions yet!"
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
