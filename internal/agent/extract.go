package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/HanSyngha/ONCE-sub000/internal/llm"
	"github.com/HanSyngha/ONCE-sub000/internal/tools"
)

// DefaultMaxExtractIterations caps the secondary extraction loop. It is
// half the primary ceiling: extraction only reads.
const DefaultMaxExtractIterations = 50

// RecordTodos is the terminal tool of the extraction loop.
const RecordTodos = "record_todos"

const extractPrompt = `You extract actionable items from freshly filed notes.
Inspect the relevant notes with the read-only tools, then finish with a
single "record_todos" call listing the concrete action items you found, one
short imperative sentence each. An empty list is a valid answer. Respond
with exactly one tool call per message.

Current hierarchy:
%s`

type recordTodosArgs struct {
	Todos []string `json:"todos"`
}

// Extractor runs the secondary loop that pulls action items out of newly
// filed content. It never mutates the store; its failures are advisory and
// callers log and drop them.
type Extractor struct {
	caller    ModelCaller
	executor  ToolExecutor
	snapshots SnapshotSource
	config    Config
	logger    *slog.Logger
	sleepFn   func(context.Context, time.Duration)
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorLogger sets the structured logger for the extractor.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = l
	}
}

// WithExtractorSleepFunc replaces the retry-backoff sleep, for tests.
func WithExtractorSleepFunc(fn func(context.Context, time.Duration)) ExtractorOption {
	return func(e *Extractor) {
		e.sleepFn = fn
	}
}

// NewExtractor wires an extractor over its collaborators.
func NewExtractor(caller ModelCaller, executor ToolExecutor, snapshots SnapshotSource,
	config Config, opts ...ExtractorOption) *Extractor {

	config = config.withDefaults()
	if config.MaxIterations > DefaultMaxExtractIterations {
		config.MaxIterations = DefaultMaxExtractIterations
	}

	e := &Extractor{
		caller:    caller,
		executor:  executor,
		snapshots: snapshots,
		config:    config,
		logger:    slog.Default(),
		sleepFn:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the action items found in the content the request just
// filed. The loop is tool-mandatory with the same corrective policy as the
// primary loop, just a smaller ceiling and a read-only vocabulary.
func (e *Extractor) Extract(ctx context.Context, req Request) ([]string, error) {
	log := e.logger.With("request", req.ID, "space", req.SpaceID)

	snapshot, err := e.snapshots.Snapshot(req.SpaceID)
	if err != nil {
		snapshot = "(unavailable)"
	}

	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(extractPrompt, snapshot)},
		{Role: "user", Content: req.Input},
	}

	violations := 0
	for iteration := 0; iteration < e.config.MaxIterations; iteration++ {
		resp, err := e.callModel(ctx, messages, log)
		if err != nil {
			return nil, err
		}

		msg, _ := resp.FirstMessage()
		msg.Role = "assistant"

		if len(msg.ToolCalls) == 0 {
			violations++
			messages = append(messages, msg)
			if violations >= e.config.MaxViolations {
				return nil, ErrProtocol
			}
			messages = append(messages, llm.Message{Role: "user", Content: extractToolReminder})
			continue
		}
		violations = 0

		if len(msg.ToolCalls) > 1 {
			msg.ToolCalls = msg.ToolCalls[:1]
		}
		messages = append(messages, msg)
		call := msg.ToolCalls[0]

		if call.Function.Name == RecordTodos {
			var args recordTodosArgs
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				res := tools.Result{Success: false, Message: "invalid arguments: malformed JSON; fix and retry"}
				messages = append(messages, llm.Message{
					Role:       "tool",
					Content:    res.Payload(),
					ToolCallID: call.ID,
				})
				continue
			}
			log.Info("todos extracted", "count", len(args.Todos), "iterations", iteration+1)
			return args.Todos, nil
		}

		res := e.execute(ctx, req, call)
		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    res.Payload(),
			ToolCallID: call.ID,
		})
	}

	return nil, fmt.Errorf("extraction: %w", ErrIterationCeiling)
}

// execute dispatches one read-only tool call; everything else is rejected
// back to the model.
func (e *Extractor) execute(ctx context.Context, req Request, call llm.ToolCall) tools.Result {
	switch call.Function.Name {
	case tools.ReadFile, tools.ListDirectory, tools.SearchNotes:
		return e.executor.Execute(ctx, req.SpaceID, call.Function.Name, call.Function.Arguments, req.ActingUser)
	default:
		return tools.Result{
			Success: false,
			Message: fmt.Sprintf("tool %q is not available during extraction", call.Function.Name),
		}
	}
}

func (e *Extractor) callModel(ctx context.Context, messages []llm.Message, log *slog.Logger) (*llm.ChatResponse, error) {
	noParallel := false
	chatReq := llm.ChatRequest{
		Messages:          messages,
		Tools:             extractDefinitions(),
		ToolChoice:        "required",
		ParallelToolCalls: &noParallel,
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxModelRetries; attempt++ {
		resp, err := e.caller.CallWithFallback(ctx, chatReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("extraction model call failed", "attempt", attempt, "error", err)
		if attempt < e.config.MaxModelRetries {
			e.sleepFn(ctx, time.Duration(attempt)*e.config.RetryBackoff)
		}
	}
	return nil, fmt.Errorf("extraction model call failed after %d attempts: %w", e.config.MaxModelRetries, lastErr)
}

// extractDefinitions declares the read-only vocabulary plus the terminal
// record_todos tool.
func extractDefinitions() []llm.ToolDefinition {
	defs := []llm.ToolDefinition{
		{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        RecordTodos,
				Description: "Finish extraction with the list of action items found. An empty list is valid.",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"todos":{"type":"array","items":{"type":"string"}}},"required":["todos"]}`),
			},
		},
	}
	for _, d := range tools.Definitions() {
		switch d.Function.Name {
		case tools.ReadFile, tools.ListDirectory, tools.SearchNotes:
			defs = append(defs, d)
		}
	}
	return defs
}
