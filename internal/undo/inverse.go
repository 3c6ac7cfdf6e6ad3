// Package undo records an inverse operation for every successful mutating
// tool call and replays them in reverse order when speculative work is
// abandoned. The forward-action → inverse-action mapping is a pure function
// so it can be tested in isolation from the loop.
package undo

import (
	"encoding/json"
	"path"

	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

// Entry is a (tool, arguments) pair that reverses a previous mutation.
// Entries are appended by the loop and never mutated in place.
type Entry struct {
	Tool string
	Args string // JSON arguments for the inverse call
}

func entry(tool string, args any) (Entry, bool) {
	b, err := json.Marshal(args)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Tool: tool, Args: string(b)}, true
}

// Inverse computes the undo entry for a successful mutating tool call.
// The mapping is total over the mutating tool set; it returns false only
// for non-mutating or unparseable calls, which never produce undo entries.
// Inverses are computed from the post-state: a rename's undo addresses the
// new path, not the old one.
func Inverse(tool, argsJSON string) (Entry, bool) {
	parsed := tools.ParseArgs(tool, argsJSON)

	switch a := parsed.(type) {
	case tools.AddFileArgs:
		return entry(tools.DeleteFile, tools.PathArgs{Path: a.Path})

	case tools.EditFileArgs:
		// Replaying with old/new swapped restores the original text.
		return entry(tools.EditFile, tools.EditFileArgs{
			Path:    a.Path,
			OldText: a.NewText,
			NewText: a.OldText,
		})

	case tools.MoveArgs:
		newPath := path.Join(a.Destination, path.Base(a.Path))
		return entry(tool, tools.MoveArgs{
			Path:        newPath,
			Destination: path.Dir(a.Path),
		})

	case tools.RenameArgs:
		newPath := path.Join(path.Dir(a.Path), a.NewName)
		return entry(tool, tools.RenameArgs{
			Path:    newPath,
			NewName: path.Base(a.Path),
		})

	case tools.PathArgs:
		switch tool {
		case tools.DeleteFile:
			return entry(tools.RestoreFile, a)
		case tools.RestoreFile:
			return entry(tools.DeleteFile, a)
		case tools.AddFolder:
			return entry(tools.DeleteFolder, a)
		case tools.DeleteFolder:
			return entry(tools.RestoreFolder, a)
		case tools.RestoreFolder:
			return entry(tools.DeleteFolder, a)
		}
		return Entry{}, false

	default:
		return Entry{}, false
	}
}
