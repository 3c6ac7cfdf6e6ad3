package llm

import (
	"context"
	"log/slog"
)

// Settings are the model selection inputs read fresh on every call.
type Settings struct {
	Default    string
	Fallbacks  []string
	LastResort string
}

// SettingsSource yields the current model settings. Implementations must be
// safe for concurrent use; the selector consults it on every call so runtime
// configuration changes take effect between iterations.
type SettingsSource interface {
	ModelSettings() Settings
}

// SettingsFunc adapts a function to the SettingsSource interface.
type SettingsFunc func() Settings

func (f SettingsFunc) ModelSettings() Settings { return f() }

// ModelAPI is the call surface the selector needs from the client.
type ModelAPI interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context, org string) ([]ModelInfo, error)
}

// Selector resolves an ordered candidate-model list and calls through it.
type Selector struct {
	source SettingsSource
	api    ModelAPI
	org    string
	logger *slog.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorLogger sets the structured logger for the selector.
func WithSelectorLogger(l *slog.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = l
	}
}

// NewSelector creates a selector over the given settings source and API.
// org filters the discovery endpoint when no default model is configured.
func NewSelector(source SettingsSource, api ModelAPI, org string, opts ...SelectorOption) *Selector {
	s := &Selector{
		source: source,
		api:    api,
		org:    org,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveCandidates returns the ordered candidate models for the next call:
// the configured default plus fallbacks; failing that, the first discovered
// model for the organization; failing that, the static last resort, which
// may be the empty string. An empty-string candidate is still returned so
// the call site fails loudly rather than silently doing nothing.
func (s *Selector) ResolveCandidates(ctx context.Context) []string {
	settings := s.source.ModelSettings()

	if settings.Default != "" {
		return append([]string{settings.Default}, settings.Fallbacks...)
	}

	models, err := s.api.ListModels(ctx, s.org)
	if err != nil {
		s.logger.Warn("model discovery failed", "org", s.org, "error", err)
	} else if len(models) > 0 {
		return []string{models[0].ID}
	}

	return []string{settings.LastResort}
}

// CallWithFallback tries each candidate model in order, returning the first
// successful response. When every candidate fails it returns a
// *FallbackError aggregating the per-model failures.
func (s *Selector) CallWithFallback(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	candidates := s.ResolveCandidates(ctx)

	var attempts []CandidateError
	for _, model := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Model = model
		resp, err := s.api.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		s.logger.Warn("candidate model failed",
			"model", model,
			"error", err,
			"remaining", len(candidates)-len(attempts)-1,
		)
		attempts = append(attempts, CandidateError{Model: model, Err: err})
	}

	return nil, &FallbackError{Attempts: attempts}
}
