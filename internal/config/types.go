// Package config loads the daemon configuration from a JSON file with
// ${ENV_VAR} expansion and holds the mutable model settings that the
// model selector consults on every call.
package config

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP listen address for the websocket hub and the
	// answer/cancel endpoints, e.g. ":8420".
	Listen string `json:"listen"`

	// DataDir holds the SQLite databases (note store + audit log).
	DataDir string `json:"data_dir"`

	LLM    LLMConfig     `json:"llm"`
	Models ModelSettings `json:"models"`
	Agent  AgentConfig   `json:"agent"`
	Queue  QueueConfig   `json:"queue"`
}

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	APIKey  string `json:"api_key"`  // supports ${ENV_VAR} references
	BaseURL string `json:"base_url"` // empty = provider default
	Org     string `json:"org"`      // organization filter for model discovery
}

// ModelSettings are the initial values for the mutable settings store.
// They may be updated at runtime; the selector re-reads them per call.
type ModelSettings struct {
	Default          string   `json:"default"`
	Fallbacks        []string `json:"fallbacks"`
	LastResort       string   `json:"last_resort"`
	MaxContextTokens int      `json:"max_context_tokens"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxIterations        int `json:"max_iterations"`         // content tasks, default 100
	MaxExtractIterations int `json:"max_extract_iterations"` // todo extraction, default 50
	AskTimeoutMS         int `json:"ask_timeout_ms"`         // default 180000
}

// QueueConfig bounds the worker pool.
type QueueConfig struct {
	Workers int `json:"workers"` // default 4
	Depth   int `json:"depth"`   // default 64
}

// applyDefaults fills zero values with production defaults.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8420"
	}
	if c.DataDir == "" {
		c.DataDir = ".once"
	}
	if c.Models.MaxContextTokens == 0 {
		c.Models.MaxContextTokens = 128000
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 100
	}
	if c.Agent.MaxExtractIterations == 0 {
		c.Agent.MaxExtractIterations = 50
	}
	if c.Agent.AskTimeoutMS == 0 {
		c.Agent.AskTimeoutMS = 180000
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Depth == 0 {
		c.Queue.Depth = 64
	}
}
