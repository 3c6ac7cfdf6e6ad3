// Package budget tracks context-window consumption for one agent session
// and decides when the loop must wind down or abort. Observe is a pure
// function of the latest usage, so identical inputs always produce
// identical statuses.
package budget

import (
	"fmt"
	"math"

	"github.com/HanSyngha/ONCE-sub000/internal/llm"
)

// PromptMargin is the anticipated size of the next tool-result injection,
// added on top of the observed prompt + completion when estimating the next
// call's prompt size.
const PromptMargin = 500

// DefaultMaxContextTokens is used when no model context size is configured.
const DefaultMaxContextTokens = 128000

const (
	windDownPercent = 80
	abortPercent    = 100
)

// Status is the derived view of the session's token consumption after one
// model call. It is computed, never stored.
type Status struct {
	PromptTokens        int
	CompletionTokens    int
	EstimatedNextPrompt int
	MaxTokens           int
	UsagePercent        int
	ShouldWindDown      bool // estimated next prompt at or above 80% of the window
	MustAbort           bool // estimated next prompt at or above the window
}

// ExhaustedError is returned by callers when a MustAbort status ends the
// request. Prior mutations still count toward partial success.
type ExhaustedError struct {
	EstimatedNextPrompt int
	MaxTokens           int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("token budget exhausted: estimated next prompt %d exceeds context window %d",
		e.EstimatedNextPrompt, e.MaxTokens)
}

// Tracker observes per-call usage for a single agent session. It is owned
// by one loop invocation and is not safe for concurrent use; the loop calls
// Observe exactly once per validated model response.
type Tracker struct {
	maxTokens int
	last      Status
}

// NewTracker creates a tracker for a context window of maxTokens.
// Non-positive values fall back to DefaultMaxContextTokens.
func NewTracker(maxTokens int) *Tracker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return &Tracker{maxTokens: maxTokens}
}

// Observe records the latest usage and returns the derived status.
func (t *Tracker) Observe(usage llm.TokenUsage) Status {
	estimate := usage.PromptTokens + usage.CompletionTokens + PromptMargin
	percent := int(math.Round(100 * float64(estimate) / float64(t.maxTokens)))

	t.last = Status{
		PromptTokens:        usage.PromptTokens,
		CompletionTokens:    usage.CompletionTokens,
		EstimatedNextPrompt: estimate,
		MaxTokens:           t.maxTokens,
		UsagePercent:        percent,
		ShouldWindDown:      percent >= windDownPercent,
		MustAbort:           percent >= abortPercent,
	}
	return t.last
}

// Last returns the most recently observed status.
func (t *Tracker) Last() Status {
	return t.last
}
