package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(_ context.Context, _ time.Duration) {}

func chatOK(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := ChatResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
		Usage:   TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("auth = %q", auth)
		}
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ToolChoice != "required" {
			t.Errorf("tool_choice = %q, want required", req.ToolChoice)
		}
		if req.ParallelToolCalls == nil || *req.ParallelToolCalls {
			t.Error("parallel_tool_calls not disabled")
		}
		chatOK(t, w, "hello")
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithSleepFunc(noSleep))

	off := false
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:             "gpt-4o",
		Messages:          []Message{{Role: "user", Content: "hi"}},
		ToolChoice:        "required",
		ParallelToolCalls: &off,
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "hello" {
		t.Errorf("content = %q", got)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatCompletion_RetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		chatOK(t, w, "recovered")
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithSleepFunc(noSleep))
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Choices[0].Message.Content != "recovered" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatCompletion_AuthNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL), WithSleepFunc(noSleep))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})

	ce, ok := err.(*ClassifiedError)
	if !ok || ce.Type != ErrAuth {
		t.Fatalf("error = %v, want auth ClassifiedError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestChatCompletion_NoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatResponse{})
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithSleepFunc(noSleep))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})

	ce, ok := err.(*ClassifiedError)
	if !ok || ce.Type != ErrMalformedResponse {
		t.Fatalf("error = %v, want malformed_response", err)
	}
}

func TestListModels_OrgFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(modelsResponse{Data: []ModelInfo{
			{ID: "other-model", Owner: "other"},
			{ID: "acme-model", Owner: "acme"},
		}})
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL))
	models, err := client.ListModels(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "acme-model" {
		t.Errorf("models = %v, want [acme-model]", models)
	}
}

func TestClassifyHTTPError_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	ce := classifyHTTPError(resp)
	if ce.Type != ErrRateLimit {
		t.Errorf("type = %v, want rate_limit", ce.Type)
	}
	if ce.RetryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", ce.RetryAfter)
	}
}
