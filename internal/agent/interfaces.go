package agent

import (
	"context"

	"github.com/HanSyngha/ONCE-sub000/internal/audit"
	"github.com/HanSyngha/ONCE-sub000/internal/llm"
	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

// ModelCaller issues one chat completion, resolving candidate models and
// falling back internally. Satisfied by *llm.Selector.
type ModelCaller interface {
	CallWithFallback(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ToolExecutor runs one tool call against the note store. Expected failures
// come back inside the Result, never as a Go error. Satisfied by
// *tools.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, space, tool, argsJSON, actingUser string) tools.Result
}

// AskGate parks the loop on a question until the user answers or the
// timeout fires. Satisfied by *askuser.Gate.
type AskGate interface {
	Ask(ctx context.Context, requestID, question string, options []string) (string, error)
}

// Notifier pushes request-scoped events to subscribed clients. Satisfied by
// *notify.Hub.
type Notifier interface {
	Progress(requestID string, iteration, percent int, message string)
	Failure(requestID, reason string)
}

// AuditLogger persists per-iteration records. Satisfied by *audit.Store.
// Audit failures are logged by the runner and never stop the loop.
type AuditLogger interface {
	Append(r audit.Record) error
}

// SnapshotSource renders the current hierarchy of a space for the system
// prompt. Satisfied by *notestore.Store.
type SnapshotSource interface {
	Snapshot(space string) (string, error)
}
