// Package config provides configuration loading and management for vcbench.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Wire formats an agent can speak.
const (
	FormatAnthropic = "anthropic"
	FormatOpenAI    = "openai"
	FormatGemini    = "gemini"
	FormatMock      = "mock"
)

// AgentConfig defines how to reach a model vendor.
type AgentConfig struct {
	Format          string `toml:"format"`            // anthropic, openai, gemini or mock
	Model           string `toml:"model"`             // Default model id
	ModelEnv        string `toml:"model_env"`         // Env var overriding Model
	BaseURL         string `toml:"base_url"`          // Default API base URL
	BaseURLEnv      string `toml:"base_url_env"`      // Env var overriding BaseURL
	APIKeyEnv       string `toml:"api_key_env"`       // Env var(s) holding the key, comma-separated
	UseAnthropicEnv string `toml:"use_anthropic_env"` // Env var switching an openai-format vendor to anthropic format
	MaxTokens       int    `toml:"max_tokens"`
}

// ResolvedAgent is an AgentConfig after environment overrides.
type ResolvedAgent struct {
	Name      string
	Format    string
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	MaxTokens int
}

// Resolve applies environment overrides.
func (a AgentConfig) Resolve(name string) ResolvedAgent {
	r := ResolvedAgent{
		Name:      name,
		Format:    a.Format,
		Model:     a.Model,
		BaseURL:   a.BaseURL,
		APIKeyEnv: a.APIKeyEnv,
		MaxTokens: a.MaxTokens,
	}
	if v := envValue(a.ModelEnv); v != "" {
		r.Model = v
	}
	if v := envValue(a.BaseURLEnv); v != "" {
		r.BaseURL = v
	}
	r.APIKey = envValue(a.APIKeyEnv)
	if r.Format == "" {
		r.Format = FormatOpenAI
	}
	if r.Format == FormatOpenAI && (envValue(a.UseAnthropicEnv) != "" || strings.Contains(r.BaseURL, "anthropic")) {
		r.Format = FormatAnthropic
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 4096
	}
	return r
}

// envValue returns the first non-empty variable among a comma-separated list.
func envValue(names string) string {
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// DefaultAgents provides built-in configurations for supported vendors.
var DefaultAgents = map[string]AgentConfig{
	"claude": {
		Format:     FormatAnthropic,
		Model:      "claude-sonnet-4-5",
		ModelEnv:   "CLAUDE_MODEL",
		BaseURL:    "https://api.anthropic.com",
		BaseURLEnv: "ANTHROPIC_BASE_URL",
		APIKeyEnv:  "ANTHROPIC_API_KEY",
	},
	"glm": {
		Format:          FormatOpenAI,
		Model:           "glm-4-plus",
		ModelEnv:        "GLM_MODEL",
		BaseURL:         "https://open.bigmodel.cn/api/paas/v4",
		BaseURLEnv:      "GLM_BASE_URL",
		APIKeyEnv:       "GLM_API_KEY",
		UseAnthropicEnv: "GLM_USE_ANTHROPIC",
	},
	"minimax": {
		Format:     FormatAnthropic,
		Model:      "MiniMax-M2.1",
		ModelEnv:   "MINIMAX_MODEL",
		BaseURL:    "https://api.minimax.io/anthropic",
		BaseURLEnv: "MINIMAX_BASE_URL",
		APIKeyEnv:  "MINIMAX_API_KEY",
	},
	"openai": {
		Format:     FormatOpenAI,
		Model:      "gpt-4o",
		ModelEnv:   "OPENAI_MODEL",
		BaseURL:    "https://api.openai.com/v1",
		BaseURLEnv: "OPENAI_BASE_URL",
		APIKeyEnv:  "OPENAI_API_KEY",
	},
	"deepseek": {
		Format:     FormatOpenAI,
		Model:      "deepseek-chat",
		ModelEnv:   "DEEPSEEK_MODEL",
		BaseURL:    "https://api.deepseek.com/v1",
		BaseURLEnv: "DEEPSEEK_BASE_URL",
		APIKeyEnv:  "DEEPSEEK_API_KEY",
	},
	"gemini": {
		Format:     FormatGemini,
		Model:      "gemini-2.0-flash",
		ModelEnv:   "GEMINI_MODEL",
		BaseURL:    "",
		BaseURLEnv: "GEMINI_BASE_URL",
		APIKeyEnv:  "GEMINI_API_KEY,GOOGLE_API_KEY",
	},
	"qwen": {
		Format:     FormatOpenAI,
		Model:      "qwen3-max",
		ModelEnv:   "QWEN_MODEL",
		BaseURL:    "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
		BaseURLEnv: "QWEN_BASE_URL",
		APIKeyEnv:  "QWEN_API_KEY",
	},
	"mock": {
		Format: FormatMock,
		Model:  "mock-v1",
	},
}

// Price is a per-million-token rate in USD.
type Price struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Config holds all configuration for vcbench.
type Config struct {
	Harness HarnessConfig          `toml:"harness"`
	Docker  DockerConfig           `toml:"docker"`
	Scoring ScoringConfig          `toml:"scoring"`
	Live    LiveConfig             `toml:"live"`
	Agents  map[string]AgentConfig `toml:"agents"`
	Pricing map[string]Price       `toml:"pricing"`
}

// HarnessConfig contains harness-specific settings.
type HarnessConfig struct {
	WorkspaceDir   string `toml:"workspace_dir"`
	ResultsDir     string `toml:"results_dir"`
	TasksDir       string `toml:"tasks_dir"` // empty uses the embedded task set
	TemplatesDir   string `toml:"templates_dir"`
	DefaultTimeout int    `toml:"default_timeout"` // seconds; 0 defers to each task
	TokenLimit     int    `toml:"token_limit"`
	UseDocker      bool   `toml:"use_docker"`
	Parallel       int    `toml:"parallel"`
}

// DockerConfig contains compose test harness settings.
type DockerConfig struct {
	AppService      string `toml:"app_service"`
	TestService     string `toml:"test_service"`
	SettleDelay     int    `toml:"settle_delay"`     // seconds
	UpTimeout       int    `toml:"up_timeout"`       // seconds
	TestTimeout     int    `toml:"test_timeout"`     // seconds, capped by the task timeout
	TeardownTimeout int    `toml:"teardown_timeout"` // seconds
}

// ScoringConfig tunes the evaluator.
type ScoringConfig struct {
	CostCeiling      float64 `toml:"cost_ceiling"` // USD mapped to a cost score of 0
	SecurityFailOpen bool    `toml:"security_fail_open"`
	VisualThreshold  float64 `toml:"visual_threshold"`
	Breakpoints      []int   `toml:"breakpoints"`
	ToolTimeout      int     `toml:"tool_timeout"` // seconds per external tool
}

// LiveConfig points at the leaderboard live-progress API.
type LiveConfig struct {
	URL string `toml:"url"`
}

// Default configuration values.
var Default = Config{
	Harness: HarnessConfig{
		WorkspaceDir: ".workspaces",
		ResultsDir:   "./results",
		TemplatesDir: "templates",
		TokenLimit:   100000,
		UseDocker:    true,
		Parallel:     1,
	},
	Docker: DockerConfig{
		AppService:      "app",
		TestService:     "test",
		SettleDelay:     5,
		UpTimeout:       60,
		TestTimeout:     300,
		TeardownTimeout: 30,
	},
	Scoring: ScoringConfig{
		CostCeiling:      1.0,
		SecurityFailOpen: true,
		VisualThreshold:  0.1,
		Breakpoints:      []int{375, 768, 1440},
		ToolTimeout:      120,
	},
	Live: LiveConfig{
		URL: "http://localhost:3001/api/live",
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./vcbench.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".vcbench.toml"))
		paths = append(paths, filepath.Join(home, ".config", "vcbench", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default
	cfg.Scoring.Breakpoints = append([]int(nil), Default.Scoring.Breakpoints...)

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Harness.WorkspaceDir == "" {
		cfg.Harness.WorkspaceDir = Default.Harness.WorkspaceDir
	}
	if cfg.Harness.ResultsDir == "" {
		cfg.Harness.ResultsDir = Default.Harness.ResultsDir
	}
	if cfg.Harness.TokenLimit <= 0 {
		cfg.Harness.TokenLimit = Default.Harness.TokenLimit
	}
	if cfg.Harness.Parallel <= 0 {
		cfg.Harness.Parallel = Default.Harness.Parallel
	}
	if cfg.Docker.AppService == "" {
		cfg.Docker.AppService = Default.Docker.AppService
	}
	if cfg.Docker.TestService == "" {
		cfg.Docker.TestService = Default.Docker.TestService
	}
	if cfg.Docker.UpTimeout <= 0 {
		cfg.Docker.UpTimeout = Default.Docker.UpTimeout
	}
	if cfg.Docker.TestTimeout <= 0 {
		cfg.Docker.TestTimeout = Default.Docker.TestTimeout
	}
	if cfg.Docker.TeardownTimeout <= 0 {
		cfg.Docker.TeardownTimeout = Default.Docker.TeardownTimeout
	}
	if cfg.Scoring.CostCeiling <= 0 {
		cfg.Scoring.CostCeiling = Default.Scoring.CostCeiling
	}
	if cfg.Scoring.VisualThreshold <= 0 {
		cfg.Scoring.VisualThreshold = Default.Scoring.VisualThreshold
	}
	if len(cfg.Scoring.Breakpoints) == 0 {
		cfg.Scoring.Breakpoints = append([]int(nil), Default.Scoring.Breakpoints...)
	}
	if cfg.Scoring.ToolTimeout <= 0 {
		cfg.Scoring.ToolTimeout = Default.Scoring.ToolTimeout
	}

	return &cfg, nil
}

// GetAgent returns the agent configuration for the given name.
// User-configured agents take precedence over built-in defaults.
// Returns nil if the agent is not found.
func (c *Config) GetAgent(name string) *AgentConfig {
	name = strings.ToLower(name)
	if c.Agents != nil {
		if agent, ok := c.Agents[name]; ok {
			return &agent
		}
	}
	if agent, ok := DefaultAgents[name]; ok {
		return &agent
	}
	return nil
}

// ListAgents returns all available agent names (built-in + user-configured), sorted.
func (c *Config) ListAgents() []string {
	seen := make(map[string]bool)
	var names []string

	for name := range c.Agents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range DefaultAgents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// Seconds converts a whole-second setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
