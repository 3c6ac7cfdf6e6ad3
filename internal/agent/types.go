// Package agent implements the bounded tool-calling loop that drives the
// note store: prompt the model, validate the response, execute exactly one
// tool call, feed the result back, repeat until the model completes, a
// ceiling fires, or the budget runs out.
package agent

import (
	"github.com/HanSyngha/ONCE-sub000/internal/llm"
	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

// TaskKind selects the system prompt and result shape for a request.
type TaskKind string

const (
	// TaskInput files a piece of raw user input into the note hierarchy.
	TaskInput TaskKind = "INPUT"
	// TaskSearch answers a question from the existing notes without
	// mutating them beyond what the model deems necessary.
	TaskSearch TaskKind = "SEARCH"
	// TaskRefactor reorganizes part of the hierarchy.
	TaskRefactor TaskKind = "REFACTOR"
)

// Request is one unit of work submitted to the loop.
type Request struct {
	ID         string
	SpaceID    string
	Kind       TaskKind
	Input      string
	ActingUser string
}

// Status is the terminal outcome of a request. A request that errors out
// with no surviving mutations has no Result at all; the error carries the
// reason.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPartial   Status = "PARTIAL"
)

// Result reports what a finished (or partially finished) request did.
type Result struct {
	Status         Status
	Summary        string
	FilesCreated   []string
	FilesModified  []string
	FoldersCreated []string
	SearchResults  []tools.SearchHit
	Iterations     int
	Usage          llm.TokenUsage
}

// HasMutations reports whether any note-store change survived.
func (r *Result) HasMutations() bool {
	return len(r.FilesCreated)+len(r.FilesModified)+len(r.FoldersCreated) > 0
}

// session is the per-request mutable state threaded through one Run call.
// It lives on the runner's stack and is never shared.
type session struct {
	iteration  int
	violations int // consecutive responses with no tool call
	mutations  int // successful mutating tool calls
	usage      llm.TokenUsage
	woundDown  bool
}

func (s *session) addUsage(u llm.TokenUsage) {
	s.usage.PromptTokens += u.PromptTokens
	s.usage.CompletionTokens += u.CompletionTokens
	s.usage.TotalTokens += u.TotalTokens
}
