// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatScore formats a 0-1 score with the four decimals aggregates carry.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// FormatLatency formats an optional millisecond latency.
// e.g., 1501 -> "1,501 ms", nil -> "-"
func FormatLatency(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return FormatNumber(*ms) + " ms"
}

// FormatAgeMonths formats a child's age in months.
// e.g., 30 -> "2y 6m", 11 -> "11m", 24 -> "2y"
func FormatAgeMonths(months int) string {
	if months < 12 {
		return fmt.Sprintf("%dm", months)
	}
	y, m := months/12, months%12
	if m == 0 {
		return fmt.Sprintf("%dy", y)
	}
	return fmt.Sprintf("%dy %dm", y, m)
}

// FormatMillis formats an epoch-millisecond timestamp in local time.
// Zero or nil-equivalent values render as "-".
func FormatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// FormatOptionalMillis formats a nullable epoch-millisecond timestamp.
func FormatOptionalMillis(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return FormatMillis(*ms)
}

// FormatDuration formats seconds into a human-readable duration.
// e.g., 3725 -> "1h 2m", 125 -> "2m 5s", 45 -> "45s"
func FormatDuration(secs int64) string {
	if secs <= 0 {
		return "0s"
	}

	hours := secs / 3600
	mins := (secs % 3600) / 60
	rem := secs % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, rem)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatFlag renders a domain flag.
func FormatFlag(set bool) string {
	if set {
		return "flagged"
	}
	return "-"
}

// FormatRetries formats a retry count against its budget.
// e.g., (2, 5) -> "2/5", (5, 5) -> "5/5 exhausted"
func FormatRetries(count, max int) string {
	s := fmt.Sprintf("%d/%d", count, max)
	if count >= max {
		s += " exhausted"
	}
	return s
}
