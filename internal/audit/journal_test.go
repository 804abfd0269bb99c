package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parse journal line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan journal: %v", err)
	}
	return entries
}

func TestJournal_RecordAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	j, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.Record(Entry{Outcome: OutcomeReleased, WorkflowID: "wf-1", HashID: "h1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Record(Entry{Outcome: OutcomeAborted, WorkflowID: "wf-2", Reason: "superseded"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Outcome != OutcomeReleased || entries[0].WorkflowID != "wf-1" || entries[0].HashID != "h1" {
		t.Errorf("first entry: %+v", entries[0])
	}
	if entries[1].Outcome != OutcomeAborted || entries[1].Reason != "superseded" {
		t.Errorf("second entry: %+v", entries[1])
	}
	for i, e := range entries {
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has a zero timestamp", i)
		}
	}
}

func TestJournal_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	j, err := Open(path, 200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 10; i++ {
		if err := j.Record(Entry{Outcome: OutcomeReleased, WorkflowID: "workflow-with-a-long-id"}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	archives, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(archives) == 0 {
		t.Fatal("expected at least one archived journal")
	}
	if j.Size() > 200 {
		t.Errorf("current journal exceeds max size: %d", j.Size())
	}
}

func TestJournal_ReopenCountsExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	j1, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j1.Record(Entry{Outcome: OutcomeReleased, WorkflowID: "wf-1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	size := j1.Size()
	j1.Close()

	j2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if j2.Size() != size {
		t.Errorf("reopened size: got %d, want %d", j2.Size(), size)
	}

	if err := j2.Record(Entry{Outcome: OutcomeReleased, WorkflowID: "wf-2"}); err != nil {
		t.Fatalf("Record after reopen: %v", err)
	}
	if got := readEntries(t, path); len(got) != 2 {
		t.Errorf("expected 2 entries after reopen, got %d", len(got))
	}
}
