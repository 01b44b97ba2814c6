package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	who := result.Identity
	if who == "" {
		who = "all clients"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Client: %s | No entries found.\n", truncate(who, 20))
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Client: %s | %s–%s UTC\n", truncate(who, 20),
		formatDateRange(result.Summary.FirstTimestamp), formatTimeOnly(result.Summary.LastTimestamp)))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		id := truncate(e.Identity, 16)
		switch e.Type {
		case TypeTransition:
			if t := e.Transition; t != nil {
				b.WriteString(fmt.Sprintf("%-10s %-16s %-6s %s -> %s (%s)\n", ts, id, "LEVEL", t.From, t.To, t.Action))
			}
		default:
			tag := ""
			if e.UsedFallback {
				tag += "  [fallback]"
			}
			if e.Cached {
				tag += "  [cached]"
			}
			b.WriteString(fmt.Sprintf("%-10s %-16s %-6s %s%s\n", ts, id, strings.ToUpper(e.Decision), truncate(e.Reason, 48), tag))
		}
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}
	if s.FallbackCount > 0 {
		parts = append(parts, fmt.Sprintf("%d fallback", s.FallbackCount))
	}
	if s.CachedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", s.CachedCount))
	}
	if s.Transitions > 0 {
		parts = append(parts, fmt.Sprintf("%d level change", s.Transitions))
	}
	return fmt.Sprintf("Summary: %s\n", strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
