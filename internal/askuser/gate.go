// Package askuser implements the pending-question registry that lets the
// agent loop ask the human a question over an asynchronous push channel and
// block until the answer arrives or a timeout fires. Whichever side wins
// removes the registry entry under the lock before acting, so the loser is
// a no-op by construction: a question is resolved exactly once.
package askuser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a question may stay unanswered.
const DefaultTimeout = 180 * time.Second

// ErrTimeout is returned by Ask when the user did not answer in time.
var ErrTimeout = errors.New("user response timeout")

// Publisher delivers the question to the client. Best-effort fire-and-forget.
type Publisher interface {
	AskUser(requestID, question string, options []string, timeout time.Duration)
}

type outcome struct {
	answer string
	err    error
}

type pendingQuestion struct {
	done  chan outcome // buffered; written exactly once
	timer *time.Timer
}

// Gate is the per-process registry of pending questions, keyed by request
// ID. Safe for concurrent use: the loop blocks in Ask while answer
// submission and the timeout race on the other side.
type Gate struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingQuestion
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTimeout overrides the default answer timeout.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.timeout = d
	}
}

// WithLogger sets the structured logger for the gate.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate creates a gate publishing questions through publisher.
func NewGate(publisher Publisher, opts ...GateOption) *Gate {
	g := &Gate{
		publisher: publisher,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		pending:   make(map[string]*pendingQuestion),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ask publishes the question and parks the caller until an answer arrives,
// the timeout fires (ErrTimeout), or ctx is cancelled. At most one question
// may be pending per request; a second concurrent Ask for the same request
// is a logic error and fails immediately. Time spent waiting does not count
// against the loop's iteration or token budgets.
func (g *Gate) Ask(ctx context.Context, requestID, question string, options []string) (string, error) {
	g.mu.Lock()
	if _, exists := g.pending[requestID]; exists {
		g.mu.Unlock()
		return "", fmt.Errorf("question already pending for request %s", requestID)
	}

	pq := &pendingQuestion{done: make(chan outcome, 1)}
	pq.timer = time.AfterFunc(g.timeout, func() {
		g.resolve(requestID, outcome{err: ErrTimeout})
	})
	g.pending[requestID] = pq
	g.mu.Unlock()

	g.logger.Info("question published",
		"request", requestID,
		"options", len(options),
		"timeout", g.timeout,
	)
	g.publisher.AskUser(requestID, question, options, g.timeout)

	select {
	case out := <-pq.done:
		return out.answer, out.err
	case <-ctx.Done():
		// Loop abort while parked: tear down the entry so a late answer
		// becomes "too late" instead of touching a dead request.
		g.resolve(requestID, outcome{err: ctx.Err()})
		<-pq.done
		return "", ctx.Err()
	}
}

// SubmitAnswer resolves the pending question for requestID. It returns
// false when nothing is pending (already answered, timed out, or never
// asked); callers must treat false as "too late", not as an error.
func (g *Gate) SubmitAnswer(requestID, answer string) bool {
	return g.resolve(requestID, outcome{answer: answer})
}

// Pending reports whether a question is currently awaiting an answer.
func (g *Gate) Pending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[requestID]
	return ok
}

// resolve removes the registry entry and delivers the outcome. The delete
// happens under the lock before the send, so the competing side finds no
// entry and reports false.
func (g *Gate) resolve(requestID string, out outcome) bool {
	g.mu.Lock()
	pq, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, requestID)
	g.mu.Unlock()

	pq.timer.Stop()
	pq.done <- out
	return true
}
