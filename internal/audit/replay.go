package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter selects entries for one client. Empty Identity matches all.
type ReplayFilter struct {
	Identity string
	From     time.Time // zero value = no lower bound
	To       time.Time // zero value = no upper bound
}

// ReplaySummary counts what happened to the selected client(s).
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	DenyCount      int    `json:"deny_count"`
	FallbackCount  int    `json:"fallback_count"`
	CachedCount    int    `json:"cached_count"`
	Transitions    int    `json:"transitions"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Identity string        `json:"identity,omitempty"`
	Entries  []Entry       `json:"entries"`
	Summary  ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Identity: filter.Identity}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if entry.Type == TypePolicyReload {
			continue
		}
		if filter.Identity != "" && entry.Identity != filter.Identity {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++
	switch entry.Type {
	case TypeTransition:
		s.Transitions++
	case TypeDecision:
		switch entry.Decision {
		case "allow":
			s.AllowCount++
		case "deny":
			s.DenyCount++
		}
		if entry.UsedFallback {
			s.FallbackCount++
		}
		if entry.Cached {
			s.CachedCount++
		}
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
