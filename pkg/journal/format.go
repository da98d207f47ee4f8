package journal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HumanDuration formats a millisecond duration as ms, s or m for quick
// scanning.
func HumanDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return strconv.FormatInt(ms, 10) + "ms"
	case d < time.Minute:
		return formatScaled(d.Seconds(), "s")
	default:
		return formatScaled(d.Minutes(), "m")
	}
}

// FormatRecord renders one journal line.
func FormatRecord(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-14s %-10s", r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Command, r.Outcome)
	if r.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", r.Reason)
	}
	fmt.Fprintf(&b, " payload=%s", r.PayloadShape)
	if r.HasCallback {
		b.WriteString(" callback")
	}
	if r.DurationMS > 0 {
		fmt.Fprintf(&b, " took=%s", HumanDuration(r.DurationMS))
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, " (%s)", r.Detail)
	}
	if r.CorrelationID != "" {
		fmt.Fprintf(&b, " [%s]", r.CorrelationID)
	}
	return b.String()
}

// FormatSummary renders per-command totals, commands sorted by name.
func FormatSummary(records []Record) string {
	breakdown := CommandBreakdown(records)
	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		agg := breakdown[name]
		fmt.Fprintf(&b, "%-14s total=%d ok=%d failed=%d ignored=%d rejected=%d",
			name, agg.Commands, agg.Succeeded, agg.Failed, agg.Ignored, agg.Rejected)
		if len(agg.ByReason) > 0 {
			reasons := make([]string, 0, len(agg.ByReason))
			for reason, n := range agg.ByReason {
				reasons = append(reasons, fmt.Sprintf("%s:%d", reason, n))
			}
			sort.Strings(reasons)
			fmt.Fprintf(&b, " reasons=%s", strings.Join(reasons, ","))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatScaled(value float64, suffix string) string {
	s := fmt.Sprintf("%.1f", value)
	s = strings.TrimSuffix(s, ".0")
	return s + suffix
}
