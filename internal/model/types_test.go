package model

import (
	"testing"
	"time"
)

func TestParseTrustLevel(t *testing.T) {
	tests := []struct {
		in   string
		want TrustLevel
	}{
		{"stranger", Stranger},
		{"Contacts", Contact},
		{" whitelist ", Whitelist},
		{"admin", Admin},
		{"block", Blocked},
		{"BLOCKED", Blocked},
	}
	for _, tt := range tests {
		got, err := ParseTrustLevel(tt.in)
		if err != nil {
			t.Errorf("ParseTrustLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTrustLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseTrustLevel("owner"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLevelRankBlockedHighest(t *testing.T) {
	for _, l := range Levels {
		if l != Blocked && LevelRank[l] >= LevelRank[Blocked] {
			t.Errorf("level %s ranks at or above blocked", l)
		}
	}
}

func TestParseTransitionActionAcceptsDashes(t *testing.T) {
	got, err := ParseTransitionAction("grant-admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != GrantAdmin {
		t.Errorf("expected grant_admin, got %s", got)
	}
	if _, err := ParseTransitionAction("elevate"); err == nil {
		t.Error("expected error for unknown transition")
	}
}

func TestNewClientRecordIsStranger(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewClientRecord("abc", now)
	if rec.Level != Stranger {
		t.Errorf("expected stranger, got %s", rec.Level)
	}
	if !rec.FirstSeen.Equal(now) || !rec.LastSeen.Equal(now) {
		t.Error("expected first/last seen to equal creation time")
	}
}

func TestCloneDoesNotShareMetadata(t *testing.T) {
	rec := ClientRecord{Identity: "abc", Metadata: map[string]string{"k": "v"}}
	c := rec.Clone()
	c.Metadata["k"] = "changed"
	if rec.Metadata["k"] != "v" {
		t.Error("clone shares metadata map with original")
	}
}

func TestShortTruncates(t *testing.T) {
	id := ClientIdentity("0123456789abcdef0123456789abcdef")
	if id.Short() != "0123456789abcdef" {
		t.Errorf("unexpected short form %q", id.Short())
	}
	if ClientIdentity("abc").Short() != "abc" {
		t.Error("short ids should be returned unchanged")
	}
}
