// Package tools defines the tool vocabulary exposed to the model and the
// executor that dispatches tool calls against the note store. Expected
// failures (missing paths, duplicate names) come back as unsuccessful
// results the model can read, never as Go errors.
package tools

import (
	"encoding/json"

	"github.com/HanSyngha/ONCE-sub000/internal/llm"
)

// Control tools, handled by the loop itself.
const (
	AskToUser = "ask_to_user"
	Complete  = "complete"
)

// Mutating tools.
const (
	AddFile       = "add_file"
	EditFile      = "edit_file"
	MoveFile      = "move_file"
	RenameFile    = "rename_file"
	DeleteFile    = "delete_file"
	RestoreFile   = "restore_file"
	AddFolder     = "add_folder"
	RenameFolder  = "rename_folder"
	MoveFolder    = "move_folder"
	DeleteFolder  = "delete_folder"
	RestoreFolder = "restore_folder"
)

// Read-only tools.
const (
	ReadFile      = "read_file"
	ListDirectory = "list_directory"
	SearchNotes   = "search_notes"
)

// IsMutating reports whether a successful call to the named tool changes
// the note store and therefore needs an undo entry.
func IsMutating(name string) bool {
	switch name {
	case AddFile, EditFile, MoveFile, RenameFile, DeleteFile, RestoreFile,
		AddFolder, RenameFolder, MoveFolder, DeleteFolder, RestoreFolder:
		return true
	}
	return false
}

func def(name, description, params string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(params),
		},
	}
}

const pathOnlySchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`

// Definitions returns the full tool schema set declared to the model.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def(AskToUser, "Ask the human user a question and wait for the answer. Use sparingly.",
			`{"type":"object","properties":{"question":{"type":"string"},"options":{"type":"array","items":{"type":"string"}}},"required":["question"]}`),
		def(Complete, "Finish the task. Provide a short summary; for searches, ranked results.",
			`{"type":"object","properties":{"summary":{"type":"string"},"results":{"type":"array","items":{"type":"object","properties":{"path":{"type":"string"},"snippet":{"type":"string"}},"required":["path"]}}},"required":["summary"]}`),
		def(AddFile, "Create a note at the given path.",
			`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path"]}`),
		def(EditFile, "Replace the first occurrence of old_text with new_text in a note. Empty old_text replaces the whole note.",
			`{"type":"object","properties":{"path":{"type":"string"},"old_text":{"type":"string"},"new_text":{"type":"string"}},"required":["path","new_text"]}`),
		def(MoveFile, "Move a note into a different folder, keeping its name.",
			`{"type":"object","properties":{"path":{"type":"string"},"destination":{"type":"string"}},"required":["path","destination"]}`),
		def(RenameFile, "Rename a note in place.",
			`{"type":"object","properties":{"path":{"type":"string"},"new_name":{"type":"string"}},"required":["path","new_name"]}`),
		def(DeleteFile, "Delete a note (recoverable).", pathOnlySchema),
		def(RestoreFile, "Restore a previously deleted note.", pathOnlySchema),
		def(AddFolder, "Create a folder at the given path.", pathOnlySchema),
		def(RenameFolder, "Rename a folder in place; contents keep their relative paths.",
			`{"type":"object","properties":{"path":{"type":"string"},"new_name":{"type":"string"}},"required":["path","new_name"]}`),
		def(MoveFolder, "Move a folder into a different parent, keeping its name.",
			`{"type":"object","properties":{"path":{"type":"string"},"destination":{"type":"string"}},"required":["path","destination"]}`),
		def(DeleteFolder, "Delete a folder and everything beneath it (recoverable).", pathOnlySchema),
		def(RestoreFolder, "Restore a previously deleted folder and its contents.", pathOnlySchema),
		def(ReadFile, "Read a note's content.", pathOnlySchema),
		def(ListDirectory, "List the entries of a folder. Empty path lists the space root.",
			`{"type":"object","properties":{"path":{"type":"string"}}}`),
		def(SearchNotes, "Search note paths and contents for a query string.",
			`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}
}
