package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func seedReplayLog(t *testing.T) string {
	t.Helper()
	l, path := newTestLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(min int) string { return base.Add(time.Duration(min) * time.Minute).Format(TimestampFormat) }

	e1 := decision("alice", "allow")
	e1.Timestamp = at(0)
	e2 := decision("bob", "deny")
	e2.Timestamp = at(1)
	e3 := decision("alice", "allow")
	e3.Timestamp, e3.Cached = at(2), true
	e4 := decision("alice", "deny")
	e4.Timestamp, e4.UsedFallback = at(3), true
	e5 := Entry{Timestamp: at(4), Type: TypeTransition, Identity: "alice",
		Transition: &TransitionRecord{Action: "block", From: "contact", To: "blocked", Actor: "self"}}
	e6 := Entry{Timestamp: at(5), Type: TypePolicyReload, PolicyHash: "sha256:new"}
	record(t, l, e1, e2, e3, e4, e5, e6)
	return path
}

func TestReplayFiltersByIdentity(t *testing.T) {
	path := seedReplayLog(t)

	res, err := Replay(path, ReplayFilter{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	s := res.Summary
	if s.Total != 4 || s.AllowCount != 2 || s.DenyCount != 1 || s.CachedCount != 1 || s.FallbackCount != 1 || s.Transitions != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.FirstTimestamp != "2026-03-01T12:00:00.000Z" || s.LastTimestamp != "2026-03-01T12:04:00.000Z" {
		t.Fatalf("range = %s..%s", s.FirstTimestamp, s.LastTimestamp)
	}
}

func TestReplaySkipsPolicyReloads(t *testing.T) {
	path := seedReplayLog(t)
	res, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Total != 5 {
		t.Fatalf("total = %d", res.Summary.Total)
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := seedReplayLog(t)
	from := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)

	res, err := Replay(path, ReplayFilter{From: from, To: to})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d", len(res.Entries))
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay("/nonexistent/audit.jsonl", ReplayFilter{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatTimeline(t *testing.T) {
	path := seedReplayLog(t)
	res, _ := Replay(path, ReplayFilter{Identity: "alice"})

	out := FormatTimeline(res)
	for _, want := range []string{
		"Client: alice",
		"ALLOW",
		"[cached]",
		"[fallback]",
		"contact -> blocked (block)",
		"Summary: 2 allow, 1 deny, 1 fallback, 1 cached, 1 level change",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	out := FormatTimeline(&ReplayResult{Identity: "nobody"})
	if !strings.Contains(out, "No entries found") {
		t.Fatalf("got %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	path := seedReplayLog(t)
	res, _ := Replay(path, ReplayFilter{Identity: "bob"})
	out, err := FormatJSON(res)
	if err != nil {
		t.Fatal(err)
	}
	var back ReplayResult
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatal(err)
	}
	if back.Summary.DenyCount != 1 || back.Identity != "bob" {
		t.Fatalf("decoded %+v", back)
	}
}
