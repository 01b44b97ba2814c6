package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "decisions.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func decision(id, verdict string) Entry {
	return Entry{
		TraceID:    "trace-" + id,
		Type:       TypeDecision,
		Identity:   id,
		Decision:   verdict,
		Reason:     "test",
		RuleID:     "rule.1.is_contact.allow",
		PolicyHash: "sha256:abc",
	}
}

func record(t *testing.T, l *Log, entries ...Entry) {
	t.Helper()
	for i, e := range entries {
		if err := l.Record(e); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l,
		decision("aa", "allow"),
		decision("bb", "deny"),
		Entry{Type: TypeTransition, Identity: "aa", Transition: &TransitionRecord{Action: "promote", From: "stranger", To: "contact"}},
	)
	l.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", res.ErrorLine, res.Error)
	}
	if res.Lines != 3 || res.Decisions != 2 || res.Transitions != 1 {
		t.Fatalf("counts = %+v", res)
	}
	if res.Head != l.Head() {
		t.Fatalf("head %s, log head %s", res.Head, l.Head())
	}
}

func TestFirstEntryChainsToGenesis(t *testing.T) {
	l, _ := newTestLog(t)
	if l.Head() != GenesisHash {
		t.Fatalf("new log head = %s", l.Head())
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "deny"), decision("aa", "deny"), decision("aa", "deny"))
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"decision":"deny"`, `"decision":"allow"`, 1)
	writeLines(t, path, lines)

	res := Verify(path)
	if res.Valid {
		t.Fatal("expected tampering to be detected")
	}
	if res.ErrorLine != 3 {
		t.Fatalf("expected break at line 3, got %d (%s)", res.ErrorLine, res.Error)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "allow"), decision("bb", "allow"), decision("cc", "allow"))
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	if res := Verify(path); res.Valid || res.ErrorLine != 2 {
		t.Fatalf("expected break at line 2, got %+v", res)
	}
}

func TestVerifyDetectsDeletedFirstEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "allow"), decision("bb", "allow"))
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, lines[1:])

	res := Verify(path)
	if res.Valid || res.ErrorLine != 1 || !strings.Contains(res.Error, "genesis") {
		t.Fatalf("expected genesis failure, got %+v", res)
	}
}

func TestVerifyDetectsMalformedLine(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "allow"))
	l.Close()

	lines := append(readLines(t, path), "{not json")
	writeLines(t, path, lines)

	if res := Verify(path); res.Valid || res.ErrorLine != 2 || !strings.Contains(res.Error, "parse") {
		t.Fatalf("expected parse failure at line 2, got %+v", res)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	res := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	if res.Valid || res.Error == "" {
		t.Fatalf("expected open error, got %+v", res)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "allow"), decision("bb", "deny"))
	head := l.Head()
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	if l2.Head() != head {
		t.Fatalf("recovered head %s, want %s", l2.Head(), head)
	}
	record(t, l2, decision("cc", "allow"))

	if res := Verify(path); !res.Valid || res.Lines != 3 {
		t.Fatalf("chain after reopen: %+v", res)
	}
}

func TestReopenDropsTornWrite(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, decision("aa", "allow"))
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"ts":"2026-01-01T00:00:00.000Z","trace_id":"x","ty`)
	f.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	record(t, l2, decision("bb", "deny"))
	l2.Close()

	if res := Verify(path); !res.Valid || res.Lines != 2 {
		t.Fatalf("chain after torn write: %+v", res)
	}
}

func TestRecordOverwritesPrevHashAndFillsTimestamp(t *testing.T) {
	l, path := newTestLog(t)
	e := decision("aa", "allow")
	e.PrevHash = "sha256:forged"
	record(t, l, e)
	l.Close()

	res, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	got := res.Entries[0]
	if got.PrevHash != GenesisHash {
		t.Fatalf("prev_hash = %s", got.PrevHash)
	}
	if got.Timestamp == "" {
		t.Fatal("timestamp not filled")
	}
}

func TestRecordAfterClose(t *testing.T) {
	l, _ := newTestLog(t)
	l.Close()
	if err := l.Record(decision("aa", "allow")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestConcurrentWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := l.Record(decision("aa", "allow")); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	l.Close()

	if res := Verify(path); !res.Valid || res.Lines != 100 {
		t.Fatalf("expected 100 valid lines, got %+v", res)
	}
}
