package tools

import (
	"encoding/json"
	"fmt"
)

// Args is the tagged union of typed tool arguments. ParseArgs never returns
// an error: unknown tools and malformed JSON map to the Invalid variant so
// the loop can route them back to the model for a retry instead of failing.
type Args interface {
	isArgs()
}

// AskArgs are the arguments of ask_to_user.
type AskArgs struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// SearchHit is one ranked result supplied by the model on complete.
type SearchHit struct {
	Path    string `json:"path"`
	Snippet string `json:"snippet,omitempty"`
}

// CompleteArgs are the arguments of complete.
type CompleteArgs struct {
	Summary string      `json:"summary"`
	Results []SearchHit `json:"results,omitempty"`
}

// AddFileArgs are the arguments of add_file.
type AddFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// EditFileArgs are the arguments of edit_file.
type EditFileArgs struct {
	Path    string `json:"path"`
	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text"`
}

// MoveArgs are the arguments of move_file and move_folder.
type MoveArgs struct {
	Path        string `json:"path"`
	Destination string `json:"destination"`
}

// RenameArgs are the arguments of rename_file and rename_folder.
type RenameArgs struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

// PathArgs are the arguments of the single-path tools (delete, restore,
// add_folder, read_file, list_directory).
type PathArgs struct {
	Path string `json:"path"`
}

// SearchArgs are the arguments of search_notes.
type SearchArgs struct {
	Query string `json:"query"`
}

// InvalidArgs marks a tool call whose name is unknown or whose JSON payload
// could not be decoded or failed validation.
type InvalidArgs struct {
	Tool   string
	Reason string
}

func (AskArgs) isArgs()      {}
func (CompleteArgs) isArgs() {}
func (AddFileArgs) isArgs()  {}
func (EditFileArgs) isArgs() {}
func (MoveArgs) isArgs()     {}
func (RenameArgs) isArgs()   {}
func (PathArgs) isArgs()     {}
func (SearchArgs) isArgs()   {}
func (InvalidArgs) isArgs()  {}

// ParseArgs decodes a tool call's raw JSON arguments into the typed variant
// for its tool name.
func ParseArgs(tool, argsJSON string) Args {
	invalid := func(reason string) Args {
		return InvalidArgs{Tool: tool, Reason: reason}
	}
	decode := func(out any) bool {
		if argsJSON == "" {
			argsJSON = "{}"
		}
		if err := json.Unmarshal([]byte(argsJSON), out); err != nil {
			return false
		}
		return true
	}

	switch tool {
	case AskToUser:
		var a AskArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Question == "" {
			return invalid("question is required")
		}
		return a

	case Complete:
		var a CompleteArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		return a

	case AddFile:
		var a AddFileArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Path == "" {
			return invalid("path is required")
		}
		return a

	case EditFile:
		var a EditFileArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Path == "" {
			return invalid("path is required")
		}
		return a

	case MoveFile, MoveFolder:
		var a MoveArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Path == "" || a.Destination == "" {
			return invalid("path and destination are required")
		}
		return a

	case RenameFile, RenameFolder:
		var a RenameArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Path == "" || a.NewName == "" {
			return invalid("path and new_name are required")
		}
		return a

	case DeleteFile, RestoreFile, AddFolder, DeleteFolder, RestoreFolder, ReadFile, ListDirectory:
		var a PathArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Path == "" && tool != ListDirectory {
			return invalid("path is required")
		}
		return a

	case SearchNotes:
		var a SearchArgs
		if !decode(&a) {
			return invalid("invalid JSON")
		}
		if a.Query == "" {
			return invalid("query is required")
		}
		return a

	default:
		return invalid(fmt.Sprintf("unknown tool %q", tool))
	}
}
