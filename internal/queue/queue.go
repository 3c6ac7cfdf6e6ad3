// Package queue runs agent requests through a bounded worker pool. Requests
// wait in a fixed-depth channel, can be cancelled both while queued and
// while running, and leave a terminal status behind for polling clients.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/HanSyngha/ONCE-sub000/internal/agent"
	"github.com/HanSyngha/ONCE-sub000/internal/askuser"
)

// Request lifecycle statuses written to the request store.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusPartial   = "PARTIAL"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
var ErrQueueFull = errors.New("request queue full")

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("request queue closed")

// Runner drives one request to a terminal state. Satisfied by *agent.Runner.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Extractor pulls action items out of freshly filed content. Satisfied by
// *agent.Extractor.
type Extractor interface {
	Extract(ctx context.Context, req agent.Request) ([]string, error)
}

// RequestStore persists request statuses. Satisfied by *audit.Store.
type RequestStore interface {
	MarkStatus(requestID, status, reason string) error
}

// TodoSink receives the action items the extraction loop found.
type TodoSink interface {
	RecordTodos(space string, todos []string) error
}

// Pool is the bounded worker pool. Workers are started by Start and drain
// until Shutdown closes the backlog.
type Pool struct {
	runner    Runner
	extractor Extractor
	store     RequestStore
	todos     TodoSink
	workers   int
	logger    *slog.Logger

	jobs chan agent.Request

	mu        sync.Mutex
	closed    bool
	queued    map[string]bool               // waiting in the backlog
	cancelled map[string]bool               // queued requests to skip
	running   map[string]context.CancelFunc // in-flight requests
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the structured logger for the pool.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithTodoSink routes extracted action items somewhere durable. Without a
// sink they are only logged.
func WithTodoSink(s TodoSink) Option {
	return func(p *Pool) {
		p.todos = s
	}
}

// NewPool creates a pool with the given concurrency and backlog depth.
func NewPool(runner Runner, extractor Extractor, store RequestStore, workers, depth int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 16
	}
	p := &Pool{
		runner:    runner,
		extractor: extractor,
		store:     store,
		workers:   workers,
		logger:    slog.Default(),
		jobs:      make(chan agent.Request, depth),
		queued:    make(map[string]bool),
		cancelled: make(map[string]bool),
		running:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers and blocks until the backlog channel is closed
// and drained, or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.worker(ctx)
		})
	}
	return g.Wait()
}

// Enqueue adds a request to the backlog and marks it QUEUED. It never
// blocks: a full backlog is an immediate error the caller reports upstream.
func (p *Pool) Enqueue(req agent.Request) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	select {
	case p.jobs <- req:
	default:
		return ErrQueueFull
	}

	p.mu.Lock()
	p.queued[req.ID] = true
	p.mu.Unlock()

	p.markStatus(req.ID, StatusQueued, "")
	p.logger.Info("request enqueued", "request", req.ID, "task", string(req.Kind))
	return nil
}

// Cancel stops a request. A queued request is skipped when dequeued; a
// running one has its context cancelled. Returns false when the request is
// unknown or already terminal.
func (p *Pool) Cancel(requestID string) bool {
	p.mu.Lock()
	if cancel, ok := p.running[requestID]; ok {
		p.mu.Unlock()
		cancel()
		return true
	}
	if p.queued[requestID] {
		p.cancelled[requestID] = true
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()
	return false
}

// Shutdown closes the backlog; Start returns once in-flight work finishes.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.process(ctx, req)
		}
	}
}

func (p *Pool) process(ctx context.Context, req agent.Request) {
	p.mu.Lock()
	delete(p.queued, req.ID)
	if p.cancelled[req.ID] {
		delete(p.cancelled, req.ID)
		p.mu.Unlock()
		p.markStatus(req.ID, StatusCancelled, "cancelled before execution")
		return
	}
	reqCtx, cancel := context.WithCancel(ctx)
	p.running[req.ID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, req.ID)
		p.mu.Unlock()
		cancel()
	}()

	p.markStatus(req.ID, StatusRunning, "")

	// The extraction loop runs concurrently with the primary loop for INPUT
	// tasks. It is advisory: its errors never touch the request outcome.
	var (
		res    *agent.Result
		runErr error
		todos  []string
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		res, runErr = p.runner.Run(reqCtx, req)
		return nil
	})
	if req.Kind == agent.TaskInput && p.extractor != nil {
		g.Go(func() error {
			extracted, err := p.extractor.Extract(reqCtx, req)
			if err != nil {
				p.logger.Warn("todo extraction failed", "request", req.ID, "error", err)
				return nil
			}
			todos = extracted
			return nil
		})
	}
	g.Wait()

	switch {
	case runErr == nil:
		p.markStatus(req.ID, string(res.Status), res.Summary)
		p.recordTodos(req, todos)
	case errors.Is(runErr, context.Canceled):
		p.markStatus(req.ID, StatusCancelled, "cancelled")
	case errors.Is(runErr, askuser.ErrTimeout):
		p.markStatus(req.ID, StatusCancelled, runErr.Error())
	default:
		p.markStatus(req.ID, StatusFailed, runErr.Error())
	}
}

// recordTodos hands extracted items to the sink. Abandoned and failed
// requests never reach here: their input was not filed, so their todos are
// dropped with them.
func (p *Pool) recordTodos(req agent.Request, todos []string) {
	if len(todos) == 0 {
		return
	}
	p.logger.Info("todos extracted", "request", req.ID, "count", len(todos))
	if p.todos == nil {
		return
	}
	if err := p.todos.RecordTodos(req.SpaceID, todos); err != nil {
		p.logger.Warn("todo sink failed", "request", req.ID, "error", err)
	}
}

func (p *Pool) markStatus(requestID, status, reason string) {
	if p.store == nil {
		return
	}
	if err := p.store.MarkStatus(requestID, status, reason); err != nil {
		p.logger.Error("status update failed",
			"request", requestID,
			"status", status,
			"error", fmt.Errorf("mark status: %w", err))
	}
}
