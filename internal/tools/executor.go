package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/HanSyngha/ONCE-sub000/internal/notestore"
)

// Result is the structured outcome of one tool execution.
type Result struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Payload renders the result as the JSON string injected into the
// conversation as a tool-result message.
func (r Result) Payload() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"message":"internal: result not serializable"}`
	}
	return string(b)
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func success(data string) Result {
	return Result{Success: true, Data: data}
}

// Executor dispatches tool calls against the note store.
type Executor struct {
	store  *notestore.Store
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger for the executor.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor over the given note store.
func NewExecutor(store *notestore.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool call within a space on behalf of actingUser.
// Expected failures are reported through Result.Success, never as panics;
// the caller feeds unsuccessful results back to the model.
func (e *Executor) Execute(ctx context.Context, space, tool, argsJSON, actingUser string) Result {
	if err := ctx.Err(); err != nil {
		return failure("execution cancelled: %v", err)
	}

	args := ParseArgs(tool, argsJSON)

	e.logger.Debug("tool execute",
		"space", space,
		"tool", tool,
		"user", actingUser,
	)

	switch a := args.(type) {
	case InvalidArgs:
		return failure("invalid arguments for %s: %s", a.Tool, a.Reason)

	case AddFileArgs:
		if err := e.store.CreateNote(space, a.Path, a.Content); err != nil {
			return failure("%v", err)
		}
		return success("created " + a.Path)

	case EditFileArgs:
		if err := e.store.EditNote(space, a.Path, a.OldText, a.NewText); err != nil {
			return failure("%v", err)
		}
		return success("edited " + a.Path)

	case MoveArgs:
		var err error
		if tool == MoveFolder {
			err = e.store.MoveFolder(space, a.Path, a.Destination)
		} else {
			err = e.store.MoveNote(space, a.Path, a.Destination)
		}
		if err != nil {
			return failure("%v", err)
		}
		return success(fmt.Sprintf("moved %s to %s", a.Path, a.Destination))

	case RenameArgs:
		var err error
		if tool == RenameFolder {
			err = e.store.RenameFolder(space, a.Path, a.NewName)
		} else {
			err = e.store.RenameNote(space, a.Path, a.NewName)
		}
		if err != nil {
			return failure("%v", err)
		}
		return success(fmt.Sprintf("renamed %s to %s", a.Path, a.NewName))

	case PathArgs:
		return e.executePathTool(space, tool, a)

	case SearchArgs:
		hits, err := e.store.SearchNotes(space, a.Query)
		if err != nil {
			return failure("%v", err)
		}
		data, _ := json.Marshal(hits)
		return success(string(data))

	default:
		// Control tools never reach the executor; the loop intercepts them.
		return failure("tool %s is not executable", tool)
	}
}

func (e *Executor) executePathTool(space, tool string, a PathArgs) Result {
	switch tool {
	case DeleteFile:
		if err := e.store.DeleteNote(space, a.Path); err != nil {
			return failure("%v", err)
		}
		return success("deleted " + a.Path)

	case RestoreFile:
		if err := e.store.RestoreNote(space, a.Path); err != nil {
			return failure("%v", err)
		}
		return success("restored " + a.Path)

	case AddFolder:
		if err := e.store.CreateFolder(space, a.Path); err != nil {
			return failure("%v", err)
		}
		return success("created folder " + a.Path)

	case DeleteFolder:
		if err := e.store.DeleteFolder(space, a.Path); err != nil {
			return failure("%v", err)
		}
		return success("deleted folder " + a.Path)

	case RestoreFolder:
		if err := e.store.RestoreFolder(space, a.Path); err != nil {
			return failure("%v", err)
		}
		return success("restored folder " + a.Path)

	case ReadFile:
		content, err := e.store.ReadNote(space, a.Path)
		if err != nil {
			return failure("%v", err)
		}
		return success(content)

	case ListDirectory:
		entries, err := e.store.List(space, a.Path)
		if err != nil {
			return failure("%v", err)
		}
		data, _ := json.Marshal(entries)
		return success(string(data))

	default:
		return failure("unknown path tool %s", tool)
	}
}
