package llm

import (
	"context"
	"errors"
	"testing"
)

// mockAPI returns scripted responses per model.
type mockAPI struct {
	responses map[string]*ChatResponse
	errs      map[string]error
	models    []ModelInfo
	modelsErr error
	called    []string
}

func (m *mockAPI) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	m.called = append(m.called, req.Model)
	if err, ok := m.errs[req.Model]; ok {
		return nil, err
	}
	if resp, ok := m.responses[req.Model]; ok {
		return resp, nil
	}
	return nil, errors.New("unconfigured model")
}

func (m *mockAPI) ListModels(_ context.Context, _ string) ([]ModelInfo, error) {
	return m.models, m.modelsErr
}

func staticSettings(s Settings) SettingsSource {
	return SettingsFunc(func() Settings { return s })
}

func TestResolveCandidates_ConfiguredDefault(t *testing.T) {
	sel := NewSelector(staticSettings(Settings{
		Default:   "gpt-4o",
		Fallbacks: []string{"gpt-4o-mini", "o3"},
	}), &mockAPI{}, "")

	got := sel.ResolveCandidates(context.Background())
	want := []string{"gpt-4o", "gpt-4o-mini", "o3"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveCandidates_Discovery(t *testing.T) {
	api := &mockAPI{models: []ModelInfo{{ID: "org-model-1"}, {ID: "org-model-2"}}}
	sel := NewSelector(staticSettings(Settings{LastResort: "static"}), api, "acme")

	got := sel.ResolveCandidates(context.Background())
	if len(got) != 1 || got[0] != "org-model-1" {
		t.Errorf("candidates = %v, want [org-model-1]", got)
	}
}

func TestResolveCandidates_LastResortMayBeEmpty(t *testing.T) {
	api := &mockAPI{modelsErr: errors.New("discovery down")}
	sel := NewSelector(staticSettings(Settings{}), api, "")

	got := sel.ResolveCandidates(context.Background())
	if len(got) != 1 || got[0] != "" {
		t.Errorf("candidates = %v, want single empty string", got)
	}
}

func TestResolveCandidates_FreshPerCall(t *testing.T) {
	current := Settings{Default: "first"}
	sel := NewSelector(SettingsFunc(func() Settings { return current }), &mockAPI{}, "")

	if got := sel.ResolveCandidates(context.Background()); got[0] != "first" {
		t.Fatalf("candidates = %v", got)
	}

	current = Settings{Default: "second"}
	if got := sel.ResolveCandidates(context.Background()); got[0] != "second" {
		t.Errorf("candidates after settings update = %v, want [second]", got)
	}
}

func TestCallWithFallback_FirstFallbackSucceeds(t *testing.T) {
	api := &mockAPI{
		errs: map[string]error{"gpt-4o": errors.New("boom")},
		responses: map[string]*ChatResponse{
			"gpt-4o-mini": {Model: "gpt-4o-mini", Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}}},
		},
	}
	sel := NewSelector(staticSettings(Settings{
		Default:   "gpt-4o",
		Fallbacks: []string{"gpt-4o-mini"},
	}), api, "")

	resp, err := sel.CallWithFallback(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("CallWithFallback: %v", err)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("response model = %q, want gpt-4o-mini", resp.Model)
	}
	if len(api.called) != 2 {
		t.Errorf("called = %v, want default then fallback", api.called)
	}
}

func TestCallWithFallback_AllFail(t *testing.T) {
	api := &mockAPI{errs: map[string]error{
		"a": errors.New("x"),
		"b": errors.New("y"),
	}}
	sel := NewSelector(staticSettings(Settings{Default: "a", Fallbacks: []string{"b"}}), api, "")

	_, err := sel.CallWithFallback(context.Background(), ChatRequest{})
	var fbErr *FallbackError
	if !errors.As(err, &fbErr) {
		t.Fatalf("error = %v, want *FallbackError", err)
	}
	if len(fbErr.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(fbErr.Attempts))
	}
}
