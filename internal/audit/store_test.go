package audit

import (
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := openTest(t)

	records := []Record{
		{RequestID: "r1", Iteration: 0, Tool: "add_file", Args: `{"path":"a.md"}`, Result: "ok", Success: true, Duration: 120 * time.Millisecond},
		{RequestID: "r1", Iteration: 1, Tool: "complete", Args: `{"summary":"done"}`, Success: true, Duration: 80 * time.Millisecond},
		{RequestID: "r2", Iteration: 0, Tool: "read_file", Success: false, Duration: 5 * time.Millisecond},
	}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.ForRequest("r1")
	if err != nil {
		t.Fatalf("ForRequest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].Tool != "add_file" || !got[0].Success {
		t.Errorf("first record = %+v", got[0])
	}
	if got[0].Duration != 120*time.Millisecond {
		t.Errorf("duration = %v", got[0].Duration)
	}
	if got[1].Iteration != 1 {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestMarkStatus_Upsert(t *testing.T) {
	s := openTest(t)

	if err := s.MarkStatus("r1", "RUNNING", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkStatus("r1", "FAILED", "user response timeout"); err != nil {
		t.Fatal(err)
	}

	status, reason, err := s.Status("r1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "FAILED" || reason != "user response timeout" {
		t.Errorf("status = %s, reason = %s", status, reason)
	}
}

func TestMarkInterrupted(t *testing.T) {
	s := openTest(t)

	s.MarkStatus("r1", "RUNNING", "")
	s.MarkStatus("r2", "QUEUED", "")
	s.MarkStatus("r3", "COMPLETED", "done")

	n, err := s.MarkInterrupted("interrupted by daemon restart")
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 2 {
		t.Errorf("touched = %d, want 2", n)
	}

	status, reason, _ := s.Status("r1")
	if status != "FAILED" || reason != "interrupted by daemon restart" {
		t.Errorf("r1 = %s/%s", status, reason)
	}
	status, _, _ = s.Status("r3")
	if status != "COMPLETED" {
		t.Errorf("terminal request touched: %s", status)
	}
}

func TestStatus_Unknown(t *testing.T) {
	s := openTest(t)
	if _, _, err := s.Status("ghost"); err == nil {
		t.Error("expected error for unknown request")
	}
}
