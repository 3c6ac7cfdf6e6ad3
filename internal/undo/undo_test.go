package undo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

func decodeArgs[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func TestInverse_TotalOverMutatingSet(t *testing.T) {
	cases := map[string]string{
		tools.AddFile:       `{"path":"a.md","content":"x"}`,
		tools.EditFile:      `{"path":"a.md","old_text":"x","new_text":"y"}`,
		tools.MoveFile:      `{"path":"a/b.md","destination":"c"}`,
		tools.RenameFile:    `{"path":"a/b.md","new_name":"c.md"}`,
		tools.DeleteFile:    `{"path":"a.md"}`,
		tools.RestoreFile:   `{"path":"a.md"}`,
		tools.AddFolder:     `{"path":"f"}`,
		tools.RenameFolder:  `{"path":"a/f","new_name":"g"}`,
		tools.MoveFolder:    `{"path":"a/f","destination":"b"}`,
		tools.DeleteFolder:  `{"path":"f"}`,
		tools.RestoreFolder: `{"path":"f"}`,
	}

	for tool, args := range cases {
		if !tools.IsMutating(tool) {
			t.Errorf("%s not marked mutating", tool)
		}
		if _, ok := Inverse(tool, args); !ok {
			t.Errorf("no inverse for mutating tool %s", tool)
		}
	}
}

func TestInverse_Pairs(t *testing.T) {
	tests := []struct {
		tool, args  string
		wantTool    string
		wantPath    string
	}{
		{tools.AddFile, `{"path":"a.md"}`, tools.DeleteFile, "a.md"},
		{tools.DeleteFile, `{"path":"a.md"}`, tools.RestoreFile, "a.md"},
		{tools.RestoreFile, `{"path":"a.md"}`, tools.DeleteFile, "a.md"},
		{tools.AddFolder, `{"path":"f"}`, tools.DeleteFolder, "f"},
		{tools.DeleteFolder, `{"path":"f"}`, tools.RestoreFolder, "f"},
	}

	for _, tt := range tests {
		e, ok := Inverse(tt.tool, tt.args)
		if !ok {
			t.Fatalf("Inverse(%s) not defined", tt.tool)
		}
		if e.Tool != tt.wantTool {
			t.Errorf("Inverse(%s).Tool = %s, want %s", tt.tool, e.Tool, tt.wantTool)
		}
		if got := decodeArgs[tools.PathArgs](t, e.Args); got.Path != tt.wantPath {
			t.Errorf("Inverse(%s).Path = %s, want %s", tt.tool, got.Path, tt.wantPath)
		}
	}
}

func TestInverse_RenameUsesNewPath(t *testing.T) {
	e, ok := Inverse(tools.RenameFile, `{"path":"notes/old.md","new_name":"new.md"}`)
	if !ok {
		t.Fatal("no inverse")
	}
	got := decodeArgs[tools.RenameArgs](t, e.Args)
	if got.Path != "notes/new.md" {
		t.Errorf("inverse path = %s, want notes/new.md (the post-rename path)", got.Path)
	}
	if got.NewName != "old.md" {
		t.Errorf("inverse new_name = %s, want old.md", got.NewName)
	}
}

func TestInverse_MoveBack(t *testing.T) {
	e, ok := Inverse(tools.MoveFolder, `{"path":"projects/alpha","destination":"archive"}`)
	if !ok {
		t.Fatal("no inverse")
	}
	got := decodeArgs[tools.MoveArgs](t, e.Args)
	if got.Path != "archive/alpha" || got.Destination != "projects" {
		t.Errorf("inverse = %+v", got)
	}
}

func TestInverse_EditSwapsTexts(t *testing.T) {
	e, ok := Inverse(tools.EditFile, `{"path":"a.md","old_text":"before","new_text":"after"}`)
	if !ok {
		t.Fatal("no inverse")
	}
	got := decodeArgs[tools.EditFileArgs](t, e.Args)
	if got.OldText != "after" || got.NewText != "before" {
		t.Errorf("inverse = %+v, want swapped texts", got)
	}
}

func TestInverse_NonMutating(t *testing.T) {
	if _, ok := Inverse(tools.ReadFile, `{"path":"a.md"}`); ok {
		t.Error("read_file should have no inverse")
	}
	if _, ok := Inverse("bogus", `{}`); ok {
		t.Error("unknown tool should have no inverse")
	}
}

func TestRollbackAll_ReverseOrder(t *testing.T) {
	var replayed []string
	ledger := NewLedger(func(_ context.Context, e Entry) error {
		replayed = append(replayed, e.Tool+":"+e.Args)
		return nil
	})

	for i, tool := range []string{tools.DeleteFile, tools.RestoreFile, tools.DeleteFolder} {
		ledger.Record(Entry{Tool: tool, Args: string(rune('0' + i))})
	}

	errs := ledger.RollbackAll(context.Background())
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	want := []string{tools.DeleteFolder + ":2", tools.RestoreFile + ":1", tools.DeleteFile + ":0"}
	if len(replayed) != len(want) {
		t.Fatalf("replayed = %v", replayed)
	}
	for i := range want {
		if replayed[i] != want[i] {
			t.Errorf("replayed[%d] = %s, want %s", i, replayed[i], want[i])
		}
	}
}

func TestRollbackAll_FailureDoesNotStop(t *testing.T) {
	calls := 0
	ledger := NewLedger(func(_ context.Context, e Entry) error {
		calls++
		if e.Tool == tools.RestoreFile {
			return errors.New("replay failed")
		}
		return nil
	})

	ledger.Record(Entry{Tool: tools.DeleteFile})
	ledger.Record(Entry{Tool: tools.RestoreFile})
	ledger.Record(Entry{Tool: tools.DeleteFolder})

	errs := ledger.RollbackAll(context.Background())
	if calls != 3 {
		t.Errorf("replay calls = %d, want all 3", calls)
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v, want exactly the one failure", errs)
	}
}

func TestRollbackAll_SecondCallNoOp(t *testing.T) {
	calls := 0
	ledger := NewLedger(func(_ context.Context, _ Entry) error {
		calls++
		return nil
	})
	ledger.Record(Entry{Tool: tools.DeleteFile})

	ledger.RollbackAll(context.Background())
	ledger.RollbackAll(context.Background())
	if calls != 1 {
		t.Errorf("replay calls = %d, want 1", calls)
	}
}
