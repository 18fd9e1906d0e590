package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantErr  bool
		wantPort string
		wantLLM  any
	}{
		{
			name: "Ollama",
			yaml: `
port: "9000"
systemPrompt: Be brief.
llm:
  provider: ollama
  model: llama3
  host: http://localhost:11434
  parameters:
    temperature: 0.2
`,
			wantPort: "9000",
			wantLLM:  &ollamaConfig{},
		},
		{
			name: "OpenAI compatible",
			yaml: `
llm:
  provider: openai
  model: gpt-4o-mini
  baseURL: https://openrouter.ai/api/v1
`,
			wantPort: defaultPort,
			wantLLM:  &openAIConfig{},
		},
		{
			name: "Anthropic",
			yaml: `
llm:
  provider: anthropic
  model: claude
  apiKey: secret
`,
			wantPort: defaultPort,
			wantLLM:  &anthropicConfig{},
		},
		{
			name: "Echo with delay",
			yaml: `
llm:
  provider: echo
  delay: 50ms
`,
			wantPort: defaultPort,
			wantLLM:  &echoConfig{},
		},
		{
			name:     "No llm keeps echo",
			yaml:     `logLevel: debug`,
			wantPort: defaultPort,
			wantLLM:  &echoConfig{},
		},
		{
			name: "Missing provider",
			yaml: `
llm:
  model: llama3
`,
			wantErr: true,
		},
		{
			name: "Unknown provider",
			yaml: `
llm:
  provider: telepathy
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Unmarshal() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}

			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %q, want %q", cfg.Port, tt.wantPort)
			}
			switch tt.wantLLM.(type) {
			case *ollamaConfig:
				c, ok := cfg.LLM.(*ollamaConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *ollamaConfig", cfg.LLM)
				}
				if c.Host != "http://localhost:11434" || c.Model != "llama3" {
					t.Errorf("ollama config = %+v", c)
				}
				if c.Parameters.Temperature == nil || *c.Parameters.Temperature != 0.2 {
					t.Errorf("temperature = %v, want 0.2", c.Parameters.Temperature)
				}
			case *openAIConfig:
				c, ok := cfg.LLM.(*openAIConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *openAIConfig", cfg.LLM)
				}
				if c.BaseURL != "https://openrouter.ai/api/v1" {
					t.Errorf("base URL = %q", c.BaseURL)
				}
			case *anthropicConfig:
				c, ok := cfg.LLM.(*anthropicConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *anthropicConfig", cfg.LLM)
				}
				if c.APIKey != "secret" {
					t.Errorf("api key = %q", c.APIKey)
				}
			case *echoConfig:
				if _, ok := cfg.LLM.(*echoConfig); !ok {
					t.Fatalf("LLM = %T, want *echoConfig", cfg.LLM)
				}
			}
		})
	}
}

func TestEchoDelay(t *testing.T) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte("llm:\n  provider: echo\n  delay: 50ms\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if d := cfg.LLM.(*echoConfig).Delay; d != 50*time.Millisecond {
		t.Errorf("delay = %v, want 50ms", d)
	}
}

func TestConfigProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if _, err := (ollamaConfig{}).llm("", logger); err == nil {
		t.Error("ollama without model should fail")
	}
	if _, err := (openAIConfig{}).llm("", logger); err == nil {
		t.Error("openai without model should fail")
	}
	if _, err := (anthropicConfig{}).titleGen("", logger); err == nil {
		t.Error("anthropic without model should fail")
	}
	if _, err := (echoConfig{}).llm("", logger); err != nil {
		t.Errorf("echo llm error = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig() on a missing file error = %v", err)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want default", cfg.Port)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(empty); err != nil {
		t.Errorf("loadConfig() on an empty file error = %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("logLevel: loud\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(bad)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if _, err := cfg.logLevel(); err == nil {
		t.Error("logLevel() should reject an unknown level")
	}
}
