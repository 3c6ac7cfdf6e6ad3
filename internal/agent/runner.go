package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HanSyngha/ONCE-sub000/internal/askuser"
	"github.com/HanSyngha/ONCE-sub000/internal/audit"
	"github.com/HanSyngha/ONCE-sub000/internal/budget"
	"github.com/HanSyngha/ONCE-sub000/internal/llm"
	"github.com/HanSyngha/ONCE-sub000/internal/tools"
	"github.com/HanSyngha/ONCE-sub000/internal/undo"
)

// Loop ceilings and retry policy defaults.
const (
	DefaultMaxIterations   = 100
	DefaultMaxModelRetries = 3
	DefaultMaxViolations   = 3
	DefaultRetryBackoff    = 2 * time.Second
)

// ErrProtocol ends a request after too many consecutive responses without
// a tool call.
var ErrProtocol = errors.New("model kept responding without tool calls")

// ErrIterationCeiling ends a request that never called complete.
var ErrIterationCeiling = errors.New("iteration ceiling reached")

// Config bounds one loop invocation. Zero values fall back to the package
// defaults.
type Config struct {
	MaxIterations    int
	MaxModelRetries  int // attempts per iteration, fallback chain included
	MaxViolations    int // consecutive no-tool-call responses tolerated
	MaxContextTokens int
	RetryBackoff     time.Duration // linear: attempt n waits n * backoff
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxModelRetries <= 0 {
		c.MaxModelRetries = DefaultMaxModelRetries
	}
	if c.MaxViolations <= 0 {
		c.MaxViolations = DefaultMaxViolations
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Runner executes requests one at a time. It is stateless between Run
// calls and safe to share across workers.
type Runner struct {
	caller    ModelCaller
	executor  ToolExecutor
	gate      AskGate
	notifier  Notifier
	auditor   AuditLogger
	snapshots SnapshotSource
	config    Config
	logger    *slog.Logger
	sleepFn   func(context.Context, time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger for the runner.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithSleepFunc replaces the retry-backoff sleep, for tests.
func WithSleepFunc(fn func(context.Context, time.Duration)) RunnerOption {
	return func(r *Runner) {
		r.sleepFn = fn
	}
}

// NewRunner wires a runner over its collaborators.
func NewRunner(caller ModelCaller, executor ToolExecutor, gate AskGate,
	notifier Notifier, auditor AuditLogger, snapshots SnapshotSource,
	config Config, opts ...RunnerOption) *Runner {

	r := &Runner{
		caller:    caller,
		executor:  executor,
		gate:      gate,
		notifier:  notifier,
		auditor:   auditor,
		snapshots: snapshots,
		config:    config.withDefaults(),
		logger:    slog.Default(),
		sleepFn:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives one request to a terminal state. It returns a Result for
// COMPLETED and PARTIAL outcomes and an error for failures; a degraded stop
// with surviving mutations prefers PARTIAL over failure. Rollback happens
// only when the user abandons a pending question.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	log := r.logger.With("request", req.ID, "space", req.SpaceID, "task", string(req.Kind))

	snapshot, err := r.snapshots.Snapshot(req.SpaceID)
	if err != nil {
		log.Warn("hierarchy snapshot unavailable", "error", err)
		snapshot = "(unavailable)"
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(req.Kind, snapshot)},
		{Role: "user", Content: req.Input},
	}

	ledger := undo.NewLedger(r.replayFunc(req), undo.WithLogger(log))
	tracker := budget.NewTracker(r.config.MaxContextTokens)
	sess := &session{}
	result := &Result{}
	lastTool := ""

	log.Info("request started")

	for sess.iteration = 0; sess.iteration < r.config.MaxIterations; sess.iteration++ {
		r.notifier.Progress(req.ID, sess.iteration,
			100*sess.iteration/r.config.MaxIterations,
			statusMessage(req.Kind, sess.iteration, lastTool))

		resp, err := r.callModel(ctx, messages, log)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.finishDegraded(req, sess, result, log,
				"model unavailable", err)
		}

		status := tracker.Observe(resp.Usage)
		sess.addUsage(resp.Usage)
		if status.MustAbort {
			return r.finishDegraded(req, sess, result, log,
				"token budget exhausted",
				&budget.ExhaustedError{
					EstimatedNextPrompt: status.EstimatedNextPrompt,
					MaxTokens:           status.MaxTokens,
				})
		}
		if status.ShouldWindDown && injectWindDown(messages) {
			sess.woundDown = true
			log.Warn("context budget high, winding down",
				"percent", status.UsagePercent,
				"iteration", sess.iteration)
		}

		msg, _ := resp.FirstMessage()
		msg.Role = "assistant"

		if len(msg.ToolCalls) == 0 {
			sess.violations++
			messages = append(messages, msg)
			log.Warn("response without tool call",
				"violations", sess.violations,
				"iteration", sess.iteration)
			if sess.violations >= r.config.MaxViolations {
				return r.finishDegraded(req, sess, result, log,
					ErrProtocol.Error(), ErrProtocol)
			}
			messages = append(messages, llm.Message{Role: "user", Content: toolRequiredReminder})
			continue
		}
		sess.violations = 0

		if len(msg.ToolCalls) > 1 {
			log.Warn("extra tool calls discarded",
				"honored", msg.ToolCalls[0].Function.Name,
				"discarded", len(msg.ToolCalls)-1)
			msg.ToolCalls = msg.ToolCalls[:1]
		}
		messages = append(messages, msg)

		call := msg.ToolCalls[0]
		lastTool = call.Function.Name
		start := time.Now()

		switch call.Function.Name {
		case tools.Complete:
			args := tools.ParseArgs(call.Function.Name, call.Function.Arguments)
			a, ok := args.(tools.CompleteArgs)
			if !ok {
				messages = append(messages, r.invalidArgsResult(req, sess, call, args, start))
				continue
			}
			result.Status = StatusCompleted
			result.Summary = a.Summary
			if req.Kind == TaskSearch {
				result.SearchResults = a.Results
			}
			result.Iterations = sess.iteration + 1
			result.Usage = sess.usage
			r.audit(log, audit.Record{
				RequestID: req.ID,
				Iteration: sess.iteration,
				Tool:      call.Function.Name,
				Args:      call.Function.Arguments,
				Success:   true,
				Duration:  time.Since(start),
			})
			r.notifier.Progress(req.ID, sess.iteration, 100, "done")
			log.Info("request completed",
				"iterations", result.Iterations,
				"mutations", sess.mutations,
				"tokens", sess.usage.TotalTokens)
			return result, nil

		case tools.AskToUser:
			args := tools.ParseArgs(call.Function.Name, call.Function.Arguments)
			a, ok := args.(tools.AskArgs)
			if !ok {
				messages = append(messages, r.invalidArgsResult(req, sess, call, args, start))
				continue
			}
			answer, err := r.gate.Ask(ctx, req.ID, a.Question, a.Options)
			if errors.Is(err, askuser.ErrTimeout) {
				return nil, r.abandon(ctx, req, sess, ledger, call, log, err)
			}
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    tools.Result{Success: true, Data: answer}.Payload(),
				ToolCallID: call.ID,
			})
			r.audit(log, audit.Record{
				RequestID: req.ID,
				Iteration: sess.iteration,
				Tool:      call.Function.Name,
				Args:      call.Function.Arguments,
				Result:    answer,
				Success:   true,
				Duration:  time.Since(start),
			})

		default:
			res := r.executor.Execute(ctx, req.SpaceID, call.Function.Name, call.Function.Arguments, req.ActingUser)
			if res.Success && tools.IsMutating(call.Function.Name) {
				if e, ok := undo.Inverse(call.Function.Name, call.Function.Arguments); ok {
					ledger.Record(e)
				}
				sess.mutations++
				trackPaths(result, call.Function.Name, call.Function.Arguments)
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    res.Payload(),
				ToolCallID: call.ID,
			})
			r.audit(log, audit.Record{
				RequestID: req.ID,
				Iteration: sess.iteration,
				Tool:      call.Function.Name,
				Args:      call.Function.Arguments,
				Result:    res.Payload(),
				Success:   res.Success,
				Duration:  time.Since(start),
			})
		}
	}

	return r.finishDegraded(req, sess, result, log,
		fmt.Sprintf("no completion after %d iterations", r.config.MaxIterations),
		ErrIterationCeiling)
}

// callModel issues one completion with bounded retries and linear backoff.
// Candidate-model fallback happens inside the caller; a retry here restarts
// the whole chain.
func (r *Runner) callModel(ctx context.Context, messages []llm.Message, log *slog.Logger) (*llm.ChatResponse, error) {
	noParallel := false
	chatReq := llm.ChatRequest{
		Messages:          messages,
		Tools:             tools.Definitions(),
		ToolChoice:        "required",
		ParallelToolCalls: &noParallel,
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxModelRetries; attempt++ {
		resp, err := r.caller.CallWithFallback(ctx, chatReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("model call failed", "attempt", attempt, "error", err)
		if attempt < r.config.MaxModelRetries {
			r.sleepFn(ctx, time.Duration(attempt)*r.config.RetryBackoff)
		}
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", r.config.MaxModelRetries, lastErr)
}

// abandon handles an ask-to-user timeout: revert every speculative change in
// reverse order, notify the client, and surface the timeout.
func (r *Runner) abandon(ctx context.Context, req Request, sess *session,
	ledger *undo.Ledger, call llm.ToolCall, log *slog.Logger, cause error) error {

	reverted := ledger.Len()
	rollbackErrs := ledger.RollbackAll(context.WithoutCancel(ctx))

	reason := fmt.Sprintf("user response timeout; reverted %d speculative changes", reverted)
	if len(rollbackErrs) > 0 {
		reason = fmt.Sprintf("%s (%d reverts failed)", reason, len(rollbackErrs))
	}
	log.Warn("request abandoned", "reason", reason)

	r.audit(log, audit.Record{
		RequestID: req.ID,
		Iteration: sess.iteration,
		Tool:      call.Function.Name,
		Args:      call.Function.Arguments,
		Result:    reason,
		Success:   false,
	})
	r.notifier.Failure(req.ID, reason)
	return fmt.Errorf("request abandoned: %w", cause)
}

// finishDegraded ends a request that cannot continue. Surviving mutations
// make it PARTIAL with a synthesized summary; otherwise it fails with the
// underlying error.
func (r *Runner) finishDegraded(req Request, sess *session,
	result *Result, log *slog.Logger, reason string, cause error) (*Result, error) {

	if sess.mutations > 0 {
		result.Status = StatusPartial
		result.Summary = fmt.Sprintf(
			"Stopped early (%s) after %d iterations: created %d notes, modified %d notes, created %d folders.",
			reason, sess.iteration+1,
			len(result.FilesCreated), len(result.FilesModified), len(result.FoldersCreated))
		result.Iterations = sess.iteration + 1
		result.Usage = sess.usage
		log.Warn("request partially completed", "reason", reason, "mutations", sess.mutations)
		return result, nil
	}

	log.Error("request failed", "reason", reason, "error", cause)
	r.notifier.Failure(req.ID, reason)
	return nil, cause
}

// invalidArgsResult synthesizes the tool-result message for a control tool
// whose arguments did not validate, so the model can correct itself.
func (r *Runner) invalidArgsResult(req Request, sess *session, call llm.ToolCall,
	args tools.Args, start time.Time) llm.Message {

	reason := "invalid arguments"
	if inv, ok := args.(tools.InvalidArgs); ok {
		reason = inv.Reason
	}
	res := tools.Result{Success: false, Message: fmt.Sprintf("invalid arguments: %s; fix the JSON and retry", reason)}
	r.audit(r.logger, audit.Record{
		RequestID: req.ID,
		Iteration: sess.iteration,
		Tool:      call.Function.Name,
		Args:      call.Function.Arguments,
		Result:    res.Payload(),
		Success:   false,
		Duration:  time.Since(start),
	})
	return llm.Message{Role: "tool", Content: res.Payload(), ToolCallID: call.ID}
}

// replayFunc adapts the executor into the ledger's replay callback.
func (r *Runner) replayFunc(req Request) undo.ReplayFunc {
	return func(ctx context.Context, e undo.Entry) error {
		res := r.executor.Execute(ctx, req.SpaceID, e.Tool, e.Args, req.ActingUser)
		if !res.Success {
			return errors.New(res.Message)
		}
		return nil
	}
}

func (r *Runner) audit(log *slog.Logger, rec audit.Record) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Append(rec); err != nil {
		log.Error("audit append failed", "tool", rec.Tool, "error", err)
	}
}

// trackPaths records which paths a successful mutation touched for the
// final result.
func trackPaths(result *Result, tool, argsJSON string) {
	switch a := tools.ParseArgs(tool, argsJSON).(type) {
	case tools.AddFileArgs:
		result.FilesCreated = appendUnique(result.FilesCreated, a.Path)
	case tools.EditFileArgs:
		result.FilesModified = appendUnique(result.FilesModified, a.Path)
	case tools.MoveArgs:
		if tool == tools.MoveFile {
			result.FilesModified = appendUnique(result.FilesModified, a.Path)
		}
	case tools.RenameArgs:
		if tool == tools.RenameFile {
			result.FilesModified = appendUnique(result.FilesModified, a.Path)
		}
	case tools.PathArgs:
		if tool == tools.AddFolder {
			result.FoldersCreated = appendUnique(result.FoldersCreated, a.Path)
		}
	}
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
