// Package llm provides the HTTP client for OpenAI-compatible chat
// completions with tool-calling support, retry logic and per-model circuit
// breakers, plus candidate-model selection with fallback.
package llm

import "encoding/json"

// Message represents a single message in a chat conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and arguments within a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a function's name, purpose, and parameter schema.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the request body for chat completions.
//
// Content is not omitempty on Message: some backends reject a null content
// field, so assistant messages always serialize content, if only as "".
type ChatRequest struct {
	Model             string           `json:"model"`
	Messages          []Message        `json:"messages"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool            `json:"parallel_tool_calls,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	MaxTokens         *int             `json:"max_tokens,omitempty"`
}

// ChatResponse is the response from chat completions.
type ChatResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   TokenUsage `json:"usage"`
}

// Choice represents one completion choice from the model. Only the first
// choice is ever consumed by the orchestration loop.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// TokenUsage tracks token consumption for a single LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelInfo describes one entry from the model discovery endpoint.
type ModelInfo struct {
	ID    string `json:"id"`
	Owner string `json:"owned_by"`
}

// modelsResponse is the body of the model discovery endpoint.
type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// FirstMessage returns the first choice's message, if any.
func (r *ChatResponse) FirstMessage() (Message, bool) {
	if len(r.Choices) == 0 {
		return Message{}, false
	}
	return r.Choices[0].Message, true
}

// HasToolCalls returns true if the first choice contains tool calls.
func (r *ChatResponse) HasToolCalls() bool {
	if len(r.Choices) == 0 {
		return false
	}
	return len(r.Choices[0].Message.ToolCalls) > 0
}
