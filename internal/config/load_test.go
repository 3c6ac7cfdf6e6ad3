package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8420" {
		t.Errorf("Listen = %q, want :8420", cfg.Listen)
	}
	if cfg.Agent.MaxIterations != 100 {
		t.Errorf("MaxIterations = %d, want 100", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxExtractIterations != 50 {
		t.Errorf("MaxExtractIterations = %d, want 50", cfg.Agent.MaxExtractIterations)
	}
	if cfg.Agent.AskTimeoutMS != 180000 {
		t.Errorf("AskTimeoutMS = %d, want 180000", cfg.Agent.AskTimeoutMS)
	}
	if cfg.Models.MaxContextTokens != 128000 {
		t.Errorf("MaxContextTokens = %d, want 128000", cfg.Models.MaxContextTokens)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ONCE_TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `{
		"llm": {"api_key": "${ONCE_TEST_API_KEY}"},
		"models": {"default": "gpt-4o"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want sk-test-123", cfg.LLM.APIKey)
	}
	if cfg.Models.Default != "gpt-4o" {
		t.Errorf("Default = %q, want gpt-4o", cfg.Models.Default)
	}
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `{"llm": {"api_key": "${ONCE_DEFINITELY_UNSET_VAR}"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_Validation(t *testing.T) {
	path := writeConfig(t, `{"queue": {"workers": -1}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for negative workers")
	}
}

func TestSettingsStore_CopyOnRead(t *testing.T) {
	store := NewSettingsStore(ModelSettings{
		Default:   "gpt-4o",
		Fallbacks: []string{"gpt-4o-mini"},
	})

	got := store.Current()
	got.Fallbacks[0] = "mutated"

	if store.Current().Fallbacks[0] != "gpt-4o-mini" {
		t.Error("Current returned a slice aliasing internal state")
	}
}

func TestSettingsStore_Update(t *testing.T) {
	store := NewSettingsStore(ModelSettings{Default: "a"})
	store.Update(ModelSettings{Default: "b", Fallbacks: []string{"c"}})

	got := store.Current()
	if got.Default != "b" || len(got.Fallbacks) != 1 {
		t.Errorf("Current = %+v after Update", got)
	}
}
