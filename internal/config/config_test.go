package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	if Default.Harness.WorkspaceDir != ".workspaces" {
		t.Errorf("default workspace dir = %q, want .workspaces", Default.Harness.WorkspaceDir)
	}
	if !Default.Harness.UseDocker {
		t.Error("default use_docker should be true")
	}
	if Default.Docker.SettleDelay != 5 || Default.Docker.UpTimeout != 60 || Default.Docker.TestTimeout != 300 || Default.Docker.TeardownTimeout != 30 {
		t.Errorf("docker defaults = %+v", Default.Docker)
	}
	if Default.Scoring.CostCeiling != 1.0 {
		t.Errorf("cost ceiling = %v, want 1.0", Default.Scoring.CostCeiling)
	}
	if Default.Scoring.VisualThreshold != 0.1 {
		t.Errorf("visual threshold = %v, want 0.1", Default.Scoring.VisualThreshold)
	}
	if len(Default.Scoring.Breakpoints) != 3 {
		t.Errorf("breakpoints = %v, want 3 entries", Default.Scoring.Breakpoints)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "test.toml")

	content := `
[harness]
workspace_dir = "/tmp/ws"
use_docker = false
parallel = 4

[docker]
test_timeout = 120

[scoring]
cost_ceiling = 2.5
security_fail_open = false
breakpoints = [320]

[agents.local]
format = "openai"
model = "llama3"
base_url = "http://localhost:11434/v1"

[pricing.local]
input = 0.1
output = 0.2
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harness.WorkspaceDir != "/tmp/ws" {
		t.Errorf("workspace dir = %q, want /tmp/ws", cfg.Harness.WorkspaceDir)
	}
	if cfg.Harness.UseDocker {
		t.Error("use_docker = true, want false")
	}
	if cfg.Harness.Parallel != 4 {
		t.Errorf("parallel = %d, want 4", cfg.Harness.Parallel)
	}
	if cfg.Harness.ResultsDir != Default.Harness.ResultsDir {
		t.Errorf("results dir = %q, want default %q", cfg.Harness.ResultsDir, Default.Harness.ResultsDir)
	}
	if cfg.Docker.TestTimeout != 120 || cfg.Docker.TeardownTimeout != Default.Docker.TeardownTimeout {
		t.Errorf("docker = %+v, want test_timeout 120 and default teardown", cfg.Docker)
	}
	if cfg.Scoring.CostCeiling != 2.5 || cfg.Scoring.SecurityFailOpen {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if len(cfg.Scoring.Breakpoints) != 1 || cfg.Scoring.Breakpoints[0] != 320 {
		t.Errorf("breakpoints = %v, want [320]", cfg.Scoring.Breakpoints)
	}
	if len(Default.Scoring.Breakpoints) != 3 {
		t.Errorf("loading mutated Default.Scoring.Breakpoints: %v", Default.Scoring.Breakpoints)
	}
	if got := cfg.Pricing["local"]; got.Input != 0.1 || got.Output != 0.2 {
		t.Errorf("pricing[local] = %+v", got)
	}

	agent := cfg.GetAgent("local")
	if agent == nil || agent.Model != "llama3" {
		t.Fatalf("GetAgent(local) = %+v", agent)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[harness\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGetAgentPrecedence(t *testing.T) {
	t.Parallel()

	cfg := &Config{Agents: map[string]AgentConfig{
		"claude": {Format: FormatAnthropic, Model: "custom"},
	}}
	if got := cfg.GetAgent("claude"); got == nil || got.Model != "custom" {
		t.Fatalf("GetAgent(claude) = %+v, want user override", got)
	}
	if got := cfg.GetAgent("DeepSeek"); got == nil || got.Model != "deepseek-chat" {
		t.Fatalf("GetAgent(DeepSeek) = %+v, want built-in", got)
	}
	if got := cfg.GetAgent("nope"); got != nil {
		t.Fatalf("GetAgent(nope) = %+v, want nil", got)
	}
}

func TestListAgents(t *testing.T) {
	t.Parallel()

	cfg := &Config{Agents: map[string]AgentConfig{"local": {}}}
	names := cfg.ListAgents()
	if len(names) != len(DefaultAgents)+1 {
		t.Fatalf("ListAgents = %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("ListAgents not sorted: %v", names)
		}
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	t.Setenv("VCB_TEST_MODEL", "m-override")
	t.Setenv("VCB_TEST_KEY_B", "secret")
	t.Setenv("VCB_TEST_ANTHROPIC", "1")

	a := AgentConfig{
		Format:          FormatOpenAI,
		Model:           "m",
		ModelEnv:        "VCB_TEST_MODEL",
		APIKeyEnv:       "VCB_TEST_KEY_A, VCB_TEST_KEY_B",
		UseAnthropicEnv: "VCB_TEST_ANTHROPIC",
	}
	r := a.Resolve("x")
	if r.Model != "m-override" {
		t.Errorf("Model = %q, want m-override", r.Model)
	}
	if r.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", r.APIKey)
	}
	if r.Format != FormatAnthropic {
		t.Errorf("Format = %q, want anthropic", r.Format)
	}
	if r.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", r.MaxTokens)
	}
}

func TestResolveAnthropicBaseURL(t *testing.T) {
	t.Parallel()

	r := AgentConfig{Format: FormatOpenAI, BaseURL: "https://api.z.ai/api/anthropic"}.Resolve("glm")
	if r.Format != FormatAnthropic {
		t.Fatalf("Format = %q, want anthropic", r.Format)
	}
}
